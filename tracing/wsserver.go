package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vm"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// FrameEvent is one message pushed to viewers.
type FrameEvent struct {
	Type    string `json:"type"` // enter, exit, step, end
	Kind    string `json:"kind,omitempty"`
	Result  string `json:"result,omitempty"`
	Address string `json:"address,omitempty"`
	Op      string `json:"op,omitempty"`
	PC      int    `json:"pc"`
	Gas     uint32 `json:"gas"`
	Depth   int    `json:"depth"`
	Error   string `json:"error,omitempty"`
}

// FrameServer streams frame transitions of a run to websocket viewers as JSON text messages.
// With Steps set every instruction is sent as well.
type FrameServer struct {
	Steps bool

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	srv      *http.Server
}

func NewFrameServer() *FrameServer {
	return &FrameServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler serves the websocket endpoint at /ws.
func (fs *FrameServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", fs.serveWs)
	return mux
}

func (fs *FrameServer) serveWs(w http.ResponseWriter, r *http.Request) {
	c, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(log.Tracing, "ws upgrade", "err", err)
		return
	}
	fs.mu.Lock()
	fs.clients[c] = struct{}{}
	fs.mu.Unlock()
	log.Info(log.Tracing, "viewer connected", "remote", r.RemoteAddr)

	// Viewers only listen; reading is how a close is noticed.
	go func() {
		defer fs.drop(c)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn(log.Tracing, "ws read", "err", err)
				}
				return
			}
		}
	}()
}

func (fs *FrameServer) drop(c *websocket.Conn) {
	fs.mu.Lock()
	if _, ok := fs.clients[c]; ok {
		delete(fs.clients, c)
		c.Close()
	}
	fs.mu.Unlock()
}

// Clients is the number of connected viewers.
func (fs *FrameServer) Clients() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.clients)
}

// Start listens on addr in the background.
func (fs *FrameServer) Start(addr string) {
	fs.srv = &http.Server{Addr: addr, Handler: fs.Handler()}
	go func() {
		log.Info(log.Tracing, "frame server listening", "addr", addr)
		if err := fs.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(log.Tracing, "frame server", "err", err)
		}
	}()
}

// Close disconnects every viewer and stops the listener if Start was called.
func (fs *FrameServer) Close(ctx context.Context) error {
	fs.mu.Lock()
	for c := range fs.clients {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.Close()
		delete(fs.clients, c)
	}
	fs.mu.Unlock()
	if fs.srv == nil {
		return nil
	}
	return fs.srv.Shutdown(ctx)
}

func (fs *FrameServer) push(ev FrameEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error(log.Tracing, "encode frame event", "err", err)
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for c := range fs.clients {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn(log.Tracing, "ws write", "err", err)
			c.Close()
			delete(fs.clients, c)
		}
	}
}

func (fs *FrameServer) event(typ string, s vm.StateInterface) FrameEvent {
	f, _ := s.CallframeAt(0)
	return FrameEvent{
		Type:    typ,
		Kind:    f.Kind.String(),
		Address: f.Address.String(),
		PC:      f.PC,
		Gas:     f.Gas,
		Depth:   s.NumberOfCallframes(),
	}
}

func (fs *FrameServer) BeforeInstruction(op program.Opcode, s vm.StateInterface) {
	if !fs.Steps {
		return
	}
	ev := fs.event("step", s)
	ev.Op = op.String()
	fs.push(ev)
}

func (fs *FrameServer) AfterInstruction(program.Opcode, vm.StateInterface) vm.ShouldStop {
	return vm.Continue
}

func (fs *FrameServer) OnExtraProverCycles(vm.CycleStats) {}

func (fs *FrameServer) OnFrameEnter(kind vm.FrameKind, s vm.StateInterface) {
	ev := fs.event("enter", s)
	ev.Kind = kind.String()
	fs.push(ev)
}

func (fs *FrameServer) OnFrameExit(kind vm.FrameKind, ret vm.ReturnKind, s vm.StateInterface) {
	ev := fs.event("exit", s)
	ev.Kind = kind.String()
	ev.Result = ret.String()
	fs.push(ev)
}

// Finish tells viewers the run is over.
func (fs *FrameServer) Finish(end vm.ExecutionEnd) {
	ev := FrameEvent{Type: "end", Result: end.Kind.String()}
	if end.Err != nil {
		ev.Error = end.Err.Error()
	}
	fs.push(ev)
}

var (
	_ vm.Tracer      = (*FrameServer)(nil)
	_ vm.FrameTracer = (*FrameServer)(nil)
)
