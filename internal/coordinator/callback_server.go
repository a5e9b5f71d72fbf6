package coordinator

import (
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultCallbackPort is the default port for the loopback OAuth callback
// listener. 0 asks the OS for any free port.
const DefaultCallbackPort = 0

// CallbackTimeout bounds how long awaitAndComplete waits for the callback
// of a single authorization attempt.
const CallbackTimeout = 10 * time.Minute

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

// callbackResult is the parsed query string of an incoming OAuth redirect.
type callbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

func (r *callbackResult) isError() bool { return r.Error != "" }

// callbackServer is a one-shot loopback HTTP server for the Local profile:
// it starts, waits for a single callback, renders a human-facing response,
// and shuts itself down.
type callbackServer struct {
	port      int
	path      string
	server    *http.Server
	listener  net.Listener
	resultCh  chan *callbackResult
	errorCh   chan error
	once      sync.Once
	serverURL string
}

// newCallbackServer creates a callback server bound to port (0 for any
// free port) serving path (default "/callback").
func newCallbackServer(port int, path string) *callbackServer {
	if path == "" {
		path = "/callback"
	}
	return &callbackServer{
		port:     port,
		path:     path,
		resultCh: make(chan *callbackResult, 1),
		errorCh:  make(chan error, 1),
	}
}

// start binds the listener and begins serving. It returns the full
// redirect URI to register with the authorization server. The server stops
// itself when ctx is cancelled.
func (s *callbackServer) start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("start callback listener on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.serverURL = fmt.Sprintf("http://127.0.0.1:%d", s.port)

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	return s.serverURL + s.path, nil
}

// waitForCallback blocks until the callback is received, the server errors,
// or ctx is cancelled.
func (s *callbackServer) waitForCallback(ctx context.Context) (*callbackResult, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	var handled bool
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})
	if !handled {
		http.Error(w, "callback already processed", http.StatusBadRequest)
	}
}

func (s *callbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	result := &callbackResult{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	var tmpl *template.Template
	var data any
	if result.isError() {
		tmpl = template.Must(template.New("error").Parse(callbackErrorHTML))
		data = map[string]string{"Error": result.Error, "Description": result.ErrorDescription}
	} else {
		tmpl = template.Must(template.New("success").Parse(callbackSuccessHTML))
		data = map[string]string{}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}

	select {
	case s.resultCh <- result:
	default:
	}

	go func() {
		time.Sleep(time.Second)
		s.stop()
	}()
}

func (s *callbackServer) stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}
