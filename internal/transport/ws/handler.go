package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itsmostafa/runpad/internal/session"
)

// Handler serves one session to HTTP and websocket clients.
type Handler struct {
	sess   *session.Session
	logger session.Logger
}

// NewHandler creates a handler for sess.
func NewHandler(sess *session.Session, logger session.Logger) *Handler {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Handler{sess: sess, logger: logger}
}

type runRequest struct {
	Source string `json:"source"`
}

type packageRequest struct {
	Name string `json:"name"`
}

// HandleRun runs the posted source. The response is always a RunResponse;
// script failures are not HTTP errors.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var in runRequest
	if !decodeBody(w, r, &in) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.sess.Run(r.Context(), in.Source))
}

func (h *Handler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	var in packageRequest
	if !decodeBody(w, r, &in) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.sess.InstallPackage(r.Context(), in.Name))
}

func (h *Handler) HandleUninstall(w http.ResponseWriter, r *http.Request) {
	var in packageRequest
	if !decodeBody(w, r, &in) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.sess.UninstallPackage(r.Context(), in.Name))
}

func (h *Handler) HandleListPackages(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sess.GetPackages(r.Context()))
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingEvery  = (wsPongWait * 9) / 10
	wsWriteQueue = 256
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsInbound struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Source string `json:"source,omitempty"`
	Name   string `json:"name,omitempty"`
	RunID  string `json:"runId,omitempty"`
}

type wsOutbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	Run      *session.RunResponse      `json:"run,omitempty"`
	Package  *session.PackageResponse  `json:"package,omitempty"`
	Packages *session.PackagesResponse `json:"packages,omitempty"`
	Console  *session.ConsoleOutput    `json:"consoleOutput,omitempty"`

	Cancelled bool   `json:"cancelled,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HandleWS upgrades to a websocket carrying requests, their responses and
// the consoleOutput push stream.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		h.logger.Warn("ws set read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writeCh := make(chan wsOutbound, wsWriteQueue)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, h.encodeWS(out)); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	unsubscribe := h.sess.Subscribe(func(out session.ConsoleOutput) {
		pushWS(writeCh, wsOutbound{Type: "consoleOutput", Console: &out})
	})
	defer unsubscribe()

	// Requests run concurrently so a new run can supersede one in flight.
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		msgType := strings.ToLower(strings.TrimSpace(in.Type))
		switch msgType {
		case "":
			pushWS(writeCh, wsOutbound{Type: "error", ID: in.ID, Code: "invalid_argument", Message: "type is required"})
		case "ping":
			pushWS(writeCh, wsOutbound{Type: "pong", ID: in.ID})
		case "cancel":
			pushWS(writeCh, wsOutbound{Type: "cancelResult", ID: in.ID, Cancelled: h.sess.Cancel(strings.TrimSpace(in.RunID))})
		case "run", "install", "uninstall", "list":
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				pushWS(writeCh, h.dispatch(ctx, msgType, in))
			}()
		default:
			pushWS(writeCh, wsOutbound{Type: "error", ID: in.ID, Code: "invalid_argument", Message: "unsupported type: " + msgType})
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, msgType string, in wsInbound) wsOutbound {
	switch msgType {
	case "run":
		resp := h.sess.Run(ctx, in.Source)
		return wsOutbound{Type: "runResult", ID: in.ID, Run: &resp}
	case "install":
		resp := h.sess.InstallPackage(ctx, in.Name)
		return wsOutbound{Type: "installResult", ID: in.ID, Package: &resp}
	case "uninstall":
		resp := h.sess.UninstallPackage(ctx, in.Name)
		return wsOutbound{Type: "uninstallResult", ID: in.ID, Package: &resp}
	default:
		resp := h.sess.GetPackages(ctx)
		return wsOutbound{Type: "packages", ID: in.ID, Packages: &resp}
	}
}

// encodeWS marshals out. A message that cannot be encoded is replaced by an
// internal error for the same request so the connection stays usable.
func (h *Handler) encodeWS(out wsOutbound) []byte {
	data, err := json.Marshal(out)
	if err == nil {
		return data
	}
	h.logger.Error("ws encode failed", "type", out.Type, "id", out.ID, "error", err)
	data, _ = json.Marshal(wsOutbound{Type: "error", ID: out.ID, Code: "internal", Message: "failed to encode response"})
	return data
}

// pushWS enqueues out, dropping the oldest queued message when the client
// is not keeping up.
func pushWS(writeCh chan wsOutbound, out wsOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
