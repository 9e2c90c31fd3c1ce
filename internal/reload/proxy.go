package reload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
)

var scriptTag = []byte(`<script src="` + ClientPath + `"></script>`)

// newProxy forwards requests to the site generator's development server and
// injects the client script into HTML responses.
func newProxy(target *url.URL, onError func(r *http.Request, err error)) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
		// Ask for an uncompressed body so the script can be spliced in.
		r.Header.Del("Accept-Encoding")
	}
	proxy.ModifyResponse = injectScript
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if onError != nil {
			onError(r, err)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, "<!DOCTYPE html><html><body><h1>Development server unavailable</h1><p>%s is not responding.</p>%s</body></html>",
			target.Host, scriptTag)
	}
	return proxy
}

func injectScript(resp *http.Response) error {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/html" || resp.Header.Get("Content-Encoding") != "" {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	body = InjectScript(body)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

// InjectScript inserts the client script tag before the closing body tag,
// or appends it when the document has none.
func InjectScript(html []byte) []byte {
	if bytes.Contains(html, scriptTag) {
		return html
	}
	idx := bytes.LastIndex(bytes.ToLower(html), []byte("</body>"))
	if idx < 0 {
		return append(html, scriptTag...)
	}
	out := make([]byte, 0, len(html)+len(scriptTag))
	out = append(out, html[:idx]...)
	out = append(out, scriptTag...)
	return append(out, html[idx:]...)
}
