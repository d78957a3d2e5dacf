package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	openAPIPath = "/api/openapi.yaml"
	docsPath    = "/api/docs"
)

// docsPage renders the OpenAPI document with ReDoc.
const docsPage = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>Resource Finder API</title>
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>
      body{margin:0;font-family:system-ui,sans-serif;}
      header{padding:12px 24px;border-bottom:1px solid #ddd;}
      header p{margin:4px 0;color:#444;}
      #redoc{height:calc(100vh - 90px);}
    </style>
  </head>
  <body>
    <header>
      <strong>Resource Finder API</strong>
      <p>Send a message to <code>POST /chat</code> and keep the returned session to continue the conversation.
      A turn that searches for resources waits on deep research and may take several minutes.</p>
    </header>
    <div id="redoc"></div>
    <script src="https://cdn.redoc.ly/redoc/v2.1.5/bundles/redoc.standalone.js"></script>
    <script>
      Redoc.init('` + openAPIPath + `', {hideDownloadButton: false, expandResponses: '200', requiredPropsFirst: true},
        document.getElementById('redoc'))
    </script>
  </body>
</html>`

func registerDocs(e *echo.Echo) {
	e.File(openAPIPath, "docs/openapi.yaml")
	e.GET(docsPath, func(c echo.Context) error {
		return c.HTML(http.StatusOK, docsPage)
	})
}
