package api

import "net/http"

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>CSA Content Sync</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #f8fafc; color: #1e293b; min-height: 100vh; display: flex; align-items: center; justify-content: center; }
  .card { max-width: 640px; width: 90%; background: #ffffff; border-radius: 12px; padding: 2.5rem; box-shadow: 0 10px 30px rgba(15,23,42,0.12); }
  h1 { font-size: 1.6rem; margin-bottom: 0.5rem; }
  .subtitle { color: #64748b; margin-bottom: 1.75rem; }
  .section-title { font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.1em; color: #94a3b8; margin: 1.25rem 0 0.5rem; }
  .endpoint { font-family: "SF Mono", Menlo, monospace; font-size: 0.9rem; color: #4f46e5; text-decoration: none; }
  p { margin-bottom: 0.35rem; }
</style>
</head>
<body>
<div class="card">
  <h1>CSA Content Sync</h1>
  <p class="subtitle">Keeps the site chatbot's index and the photo gallery in step with their sources.</p>

  <div class="section-title">Endpoints</div>
  <p><a href="/health" class="endpoint">GET /health</a> &middot; index and catalog status</p>
  <p><a href="/v1/routes/gallery-images" class="endpoint">GET /v1/routes/gallery-images</a> &middot; gallery grouped by event</p>
  <p><span class="endpoint">GET /v1/routes/gallery-images/proxy/{id}</span> &middot; image proxy</p>
  <p><span class="endpoint">POST /v1/routes/google-drive/webhook</span> &middot; drive push notifications</p>
  <p><span class="endpoint">/mcp</span> &middot; MCP Streamable HTTP (search_content, ask, get_sync_status, refresh_sources)</p>
</div>
</body>
</html>`

// NewLandingHandler returns an HTTP handler that serves the landing page at /.
func NewLandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(landingHTML))
	}
}
