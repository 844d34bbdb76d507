package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"reqshield/internal/models"
	"reqshield/internal/version"
)

// NewUpstreamProxy returns a reverse proxy forwarding to upstreamURL. Requests
// keep their path and query; X-Forwarded-* headers are set from the incoming
// connection and the service adds itself to Via. An unreachable upstream is
// answered with a JSON 502.
func NewUpstreamProxy(upstreamURL string, ver version.Info) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme must be http or https", upstreamURL)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: missing host", upstreamURL)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			// Append to the inbound chain rather than replacing it
			pr.Out.Header["X-Forwarded-For"] = pr.In.Header["X-Forwarded-For"]
			pr.SetXForwarded()
			pr.Out.Header.Add("Via", ver.Via(pr.In.ProtoMajor, pr.In.ProtoMinor))
			otel.GetTextMapPropagator().Inject(pr.In.Context(), propagation.HeaderCarrier(pr.Out.Header))
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("Upstream request failed", "error", err, "path", r.URL.Path, "upstream", target.Host)
			writeJSON(w, http.StatusBadGateway, models.NewErrorResponse("Upstream unreachable", models.ErrorCodeBadGateway))
		},
	}, nil
}
