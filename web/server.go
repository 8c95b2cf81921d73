// Package web provides a web interface for monitoring decoded switch events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chasefleming/elem-go"
	"github.com/chasefleming/elem-go/attrs"
	"github.com/lkempf/casambi-bt-bridge/config"
	"github.com/lkempf/casambi-bt-bridge/events"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"tailscale.com/util/eventbus"
)

// recentEventLimit bounds the ring of events shown on the monitor page.
const recentEventLimit = 50

// Server manages the web interface.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	bus    *events.Bus
	client *eventbus.Client
	server *http.Server
	mux    *http.ServeMux
	ctx    context.Context
	cancel context.CancelFunc

	started time.Time

	mu         sync.RWMutex
	recent     []events.SwitchEvent
	connection *events.ConnectionStatusEvent
	sseClients map[chan events.SwitchEvent]struct{}
}

// New creates a new web server.
func New(cfg *config.Config, logger *zap.Logger, bus *events.Bus) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("eventbus is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	client, err := bus.Client(events.ClientWeb)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get eventbus client: %w", err)
	}

	mux := http.NewServeMux()

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		bus:        bus,
		client:     client,
		mux:        mux,
		ctx:        ctx,
		cancel:     cancel,
		started:    time.Now(),
		sseClients: make(map[chan events.SwitchEvent]struct{}),
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.WebBindAddress, cfg.WebPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.setupRoutes()

	logger.Info("web server created",
		zap.Int("port", cfg.WebPort),
	)

	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Switch event monitor UI
	s.mux.HandleFunc("/", s.handleIndex)

	// SSE for live events
	s.mux.HandleFunc("/events", s.handleSSE)

	// Recent events as JSON
	s.mux.HandleFunc("/api/events", s.handleRecentEvents)

	// EventBus debugger
	s.mux.HandleFunc("/debug/eventbus", s.handleEventBusDebug)

	// Prometheus metrics
	s.mux.Handle("/metrics", promhttp.Handler())

	// Health check
	s.mux.HandleFunc("/health", s.handleHealth)
}

// Start starts the web server and begins handling events.
func (s *Server) Start() error {
	s.logger.Info("starting web server")

	go s.handleBusEvents()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("web server error", zap.Error(err))
		}
	}()

	s.publishConnectionStatus(events.ConnectionStatusConnected, "")

	s.logger.Info("web server started successfully")
	return nil
}

// handleBusEvents subscribes to bus events and feeds the monitor state.
func (s *Server) handleBusEvents() {
	switchSub := eventbus.Subscribe[events.SwitchEvent](s.client)
	defer switchSub.Close()
	connSub := eventbus.Subscribe[events.ConnectionStatusEvent](s.client)
	defer connSub.Close()

	s.logger.Info("subscribed to bus events")

	for {
		select {
		case event := <-switchSub.Events():
			s.recordSwitchEvent(event)
		case event := <-connSub.Events():
			s.recordConnectionStatus(event)
		case <-s.ctx.Done():
			s.logger.Info("stopping bus event handler")
			return
		}
	}
}

// recordSwitchEvent appends to the recent ring and broadcasts to SSE clients.
func (s *Server) recordSwitchEvent(event events.SwitchEvent) {
	s.mu.Lock()
	s.recent = append(s.recent, event)
	if len(s.recent) > recentEventLimit {
		s.recent = s.recent[len(s.recent)-recentEventLimit:]
	}

	for client := range s.sseClients {
		select {
		case client <- event:
		default:
			// Client is slow or disconnected, skip
		}
	}
	s.mu.Unlock()

	s.logger.Debug("recorded switch event",
		zap.Int("unit_id", event.UnitID),
		zap.Int("button", event.Button),
		zap.String("action", string(event.Action)),
	)
}

func (s *Server) recordConnectionStatus(event events.ConnectionStatusEvent) {
	if event.Component != "casambi" {
		return
	}
	s.mu.Lock()
	s.connection = &event
	s.mu.Unlock()
}

// handleIndex serves the switch event monitor UI.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	recent := make([]events.SwitchEvent, len(s.recent))
	copy(recent, s.recent)
	connection := s.connection
	s.mu.RUnlock()

	html := s.renderMonitorUI(recent, connection)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

// handleSSE streams switch events to the browser.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientChan := make(chan events.SwitchEvent, 10)

	s.mu.Lock()
	s.sseClients[clientChan] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sseClients, clientChan)
		s.mu.Unlock()
		close(clientChan)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	for {
		select {
		case event := <-clientChan:
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// handleRecentEvents returns the recent event ring as JSON.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	recent := make([]events.SwitchEvent, len(s.recent))
	copy(recent, s.recent)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(recent); err != nil {
		s.logger.Error("failed to encode recent events", zap.Error(err))
	}
}

// handleEventBusDebug shows EventBus statistics and the last event.
func (s *Server) handleEventBusDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	html := s.renderEventBusDebug()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// publishConnectionStatus publishes a connection status event.
func (s *Server) publishConnectionStatus(status events.ConnectionStatus, errMsg string) {
	event := events.ConnectionStatusEvent{
		Component: "web",
		Status:    status,
		Error:     errMsg,
	}
	s.bus.PublishConnectionStatus(s.client, event)
}

// Close gracefully shuts down the web server.
func (s *Server) Close() error {
	s.logger.Info("shutting down web server")

	s.publishConnectionStatus(events.ConnectionStatusDisconnected, "")

	// Cancelling the context unwinds every SSE handler; each handler owns
	// and closes its own channel.
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server shutdown error", zap.Error(err))
	}

	s.logger.Info("web server shut down complete")
	return nil
}

// renderMonitorUI renders the switch event monitor using elem-go.
func (s *Server) renderMonitorUI(recent []events.SwitchEvent, connection *events.ConnectionStatusEvent) string {
	status := "unknown"
	statusClass := "status-off"
	if connection != nil {
		status = string(connection.Status)
		if connection.Status == events.ConnectionStatusConnected {
			statusClass = "status-on"
		}
	}

	rows := []elem.Node{
		elem.Tr(nil,
			elem.Th(nil, elem.Text("Time")),
			elem.Th(nil, elem.Text("Unit")),
			elem.Th(nil, elem.Text("Button")),
			elem.Th(nil, elem.Text("Action")),
			elem.Th(nil, elem.Text("Type")),
			elem.Th(nil, elem.Text("Flags")),
		),
	}
	// Newest first.
	for i := len(recent) - 1; i >= 0; i-- {
		event := recent[i]
		rows = append(rows, elem.Tr(nil,
			elem.Td(nil, elem.Text(event.Timestamp.Format("15:04:05.000"))),
			elem.Td(nil, elem.Text(fmt.Sprintf("%d", event.UnitID))),
			elem.Td(nil, elem.Text(fmt.Sprintf("%d", event.Button))),
			elem.Td(nil, elem.Text(string(event.Action))),
			elem.Td(nil, elem.Text(fmt.Sprintf("0x%02x", event.MessageType))),
			elem.Td(nil, elem.Text(fmt.Sprintf("0x%02x", event.Flags))),
		))
	}

	return elem.Html(nil,
		elem.Head(nil,
			elem.Title(nil, elem.Text("Casambi Switch Events")),
			elem.Meta(attrs.Props{attrs.Charset: "utf-8"}),
			elem.Meta(attrs.Props{attrs.Name: "viewport", attrs.Content: "width=device-width, initial-scale=1"}),
			elem.Style(nil, elem.Text(s.getCSS())),
		),
		elem.Body(nil,
			elem.Div(attrs.Props{attrs.Class: "container"},
				elem.H1(nil, elem.Text("Casambi Switch Events")),

				elem.Div(attrs.Props{attrs.Class: "status-card"},
					elem.Span(attrs.Props{attrs.Class: "label"}, elem.Text("Network")),
					elem.Span(attrs.Props{attrs.Class: statusClass, attrs.ID: "network-status"}, elem.Text(status)),
				),

				elem.Div(attrs.Props{attrs.Class: "event-card"},
					elem.H2(nil, elem.Text("Live Events")),
					elem.Table(attrs.Props{attrs.ID: "event-table"}, rows...),
				),

				elem.Div(attrs.Props{attrs.Class: "links"},
					elem.A(attrs.Props{attrs.Href: "/debug/eventbus"}, elem.Text("EventBus Debug")),
					elem.Text(" | "),
					elem.A(attrs.Props{attrs.Href: "/metrics"}, elem.Text("Metrics")),
					elem.Text(" | "),
					elem.A(attrs.Props{attrs.Href: "/api/events"}, elem.Text("JSON")),
				),
			),

			// SSE handler script
			elem.Script(nil, elem.Text(`
				const eventSource = new EventSource('/events');
				const table = document.getElementById('event-table');

				eventSource.onmessage = function(e) {
					const data = JSON.parse(e.data);
					const row = table.insertRow(1);
					row.insertCell(0).textContent = new Date().toLocaleTimeString();
					row.insertCell(1).textContent = data.unit_id;
					row.insertCell(2).textContent = data.button;
					row.insertCell(3).textContent = data.action;
					row.insertCell(4).textContent = '0x' + data.message_type.toString(16);
					row.insertCell(5).textContent = '0x' + data.flags.toString(16);
					while (table.rows.length > 51) {
						table.deleteRow(table.rows.length - 1);
					}
				};
			`)),
		),
	).Render()
}

// renderEventBusDebug renders the EventBus debugger interface.
func (s *Server) renderEventBusDebug() string {
	s.mu.RLock()
	sseClientCount := len(s.sseClients)
	recentCount := len(s.recent)
	s.mu.RUnlock()

	lastJSON := "No events yet"
	if last := s.bus.LastSwitchEvent(); last != nil {
		data, err := json.MarshalIndent(last, "", "  ")
		if err == nil {
			lastJSON = string(data)
		}
	}

	return elem.Html(nil,
		elem.Head(nil,
			elem.Title(nil, elem.Text("EventBus Debug")),
			elem.Meta(attrs.Props{attrs.Charset: "utf-8"}),
			elem.Meta(attrs.Props{attrs.Name: "viewport", attrs.Content: "width=device-width, initial-scale=1"}),
			elem.Style(nil, elem.Text(s.getCSS())),
		),
		elem.Body(nil,
			elem.Div(attrs.Props{attrs.Class: "container"},
				elem.H1(nil, elem.Text("EventBus Debugger")),

				elem.Div(attrs.Props{attrs.Class: "event-card"},
					elem.H2(nil, elem.Text("Statistics")),
					elem.Div(nil,
						elem.P(nil, elem.Text(fmt.Sprintf("Connected SSE Clients: %d", sseClientCount))),
						elem.P(nil, elem.Text(fmt.Sprintf("Buffered Events: %d", recentCount))),
						elem.P(nil, elem.Text(fmt.Sprintf("Server Uptime: %s", time.Since(s.started).Round(time.Second)))),
					),
				),

				elem.Div(attrs.Props{attrs.Class: "event-card"},
					elem.H2(nil, elem.Text("Last Switch Event")),
					elem.Pre(nil, elem.Text(lastJSON)),
				),

				elem.Div(attrs.Props{attrs.Class: "links"},
					elem.A(attrs.Props{attrs.Href: "/"}, elem.Text("Back to Monitor")),
				),
			),
		),
	).Render()
}

// getCSS returns CSS styles for the UI.
func (s *Server) getCSS() string {
	return `
		* { margin: 0; padding: 0; box-sizing: border-box; }
		body {
			font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
			background: linear-gradient(135deg, #1e3c72 0%, #2a5298 100%);
			min-height: 100vh;
			padding: 20px;
		}
		.container {
			max-width: 800px;
			margin: 0 auto;
		}
		h1 {
			color: white;
			text-align: center;
			margin-bottom: 30px;
			font-size: 2em;
		}
		h2 {
			color: #333;
			margin-bottom: 15px;
			font-size: 1.2em;
		}
		.status-card, .event-card {
			background: white;
			border-radius: 20px;
			padding: 30px;
			margin-bottom: 20px;
			box-shadow: 0 10px 40px rgba(0,0,0,0.1);
		}
		.status-card .label {
			color: #666;
			margin-right: 10px;
		}
		.status-on {
			background: #d4edda;
			color: #155724;
			padding: 5px 15px;
			border-radius: 15px;
			font-weight: bold;
		}
		.status-off {
			background: #e0e0e0;
			color: #666;
			padding: 5px 15px;
			border-radius: 15px;
			font-weight: bold;
		}
		table {
			width: 100%;
			border-collapse: collapse;
		}
		th, td {
			text-align: left;
			padding: 8px;
			border-bottom: 1px solid #e0e0e0;
			font-size: 0.9em;
		}
		th {
			color: #666;
		}
		.links {
			text-align: center;
			margin-top: 20px;
		}
		.links a {
			color: white;
			text-decoration: none;
			font-weight: bold;
		}
		.links a:hover {
			text-decoration: underline;
		}
		pre {
			background: #f5f5f5;
			padding: 15px;
			border-radius: 5px;
			overflow-x: auto;
			font-size: 0.9em;
		}
	`
}
