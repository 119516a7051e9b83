package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/OutlineBot/internal/metrics"
	"rsc.io/qr"
)

// Page texts served to the operator.
const (
	NoPairingCodeHTML = "<h2>El QR aún no se genera o ya estás conectado.</h2><p>Si acabas de encenderlo, espera 5 segundos y refresca.</p>"
	PairingErrorText  = "Error generando el QR."
	RootText          = "Bot activo. Accede a /qr para vincular."

	// PairingRefreshSeconds is how often the pairing page reloads itself.
	PairingRefreshSeconds = 20
)

var pairingPage = template.Must(template.New("pairing").Parse(`<html>
  <body style="display:flex;flex-direction:column;align-items:center;justify-content:center;height:100vh;font-family:sans-serif;background-color:#f0f2f5;">
    <div style="background:white;padding:30px;border-radius:15px;box-shadow:0 4px 15px rgba(0,0,0,0.1);text-align:center;">
      <h2 style="color:#128c7e;">Vincular WhatsApp</h2>
      <img src="{{.Image}}" style="width:300px;height:300px;margin:20px 0;">
      <p style="color:#666;">El QR se actualiza automáticamente cada {{.Refresh}} segundos.</p>
      <script>setTimeout(() => { location.reload(); }, {{.RefreshMillis}});</script>
    </div>
  </body>
</html>
`))

type pairingPageData struct {
	Image         template.URL
	Refresh       int
	RefreshMillis int
}

// encodeQR renders a pairing code as a PNG data URL.
var encodeQR = func(code string) (string, error) {
	c, err := qr.Encode(code, qr.L)
	if err != nil {
		return "", fmt.Errorf("qr encode: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(c.PNG()), nil
}

// qrHandler serves the pairing page for the current code, or a placeholder.
func (s *Server) qrHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.qrHandler: processing request", "method", r.Method, "remote", r.RemoteAddr)
	code, ok := s.pairing.Get()
	if !ok {
		metrics.RecordPairingPageView("empty")
		writeHTML(w, http.StatusOK, NoPairingCodeHTML)
		return
	}

	image, err := encodeQR(code)
	if err != nil {
		slog.Error("Server.qrHandler: failed to render pairing code", "error", err)
		metrics.RecordPairingPageView("error")
		writeText(w, http.StatusInternalServerError, PairingErrorText)
		return
	}

	var buf bytes.Buffer
	data := pairingPageData{
		Image:         template.URL(image),
		Refresh:       PairingRefreshSeconds,
		RefreshMillis: PairingRefreshSeconds * 1000,
	}
	if err := pairingPage.Execute(&buf, data); err != nil {
		slog.Error("Server.qrHandler: failed to execute template", "error", err)
		metrics.RecordPairingPageView("error")
		writeText(w, http.StatusInternalServerError, PairingErrorText)
		return
	}
	metrics.RecordPairingPageView("code")
	writeHTML(w, http.StatusOK, buf.String())
}

// rootHandler answers every path not matched by another route.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, RootText)
}

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status         string `json:"status"`
	Connected      bool   `json:"connected"`
	PairingPending bool   `json:"pairing_pending"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSONResponse(w, http.StatusMethodNotAllowed, healthResponse{Status: "method not allowed"})
		return
	}
	_, pending := s.pairing.Get()
	resp := healthResponse{Status: "ok", PairingPending: pending}
	if s.connected != nil {
		resp.Connected = s.connected()
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
