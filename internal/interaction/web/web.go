// Package web serves a browser interface for triggering syncs and scanning
// the BankID QR code remotely. Progress is pushed to the page over
// Server-Sent Events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/kivra-sync/internal/interaction"
)

const (
	heartbeatInterval = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Provider exposes the sync pipeline over HTTP.
type Provider struct {
	host     string
	port     int
	callback func()

	mu        sync.Mutex
	state     map[string]any
	clients   map[chan []byte]struct{}
	qrPath    string
	isSyncing bool
}

// New creates a web provider bound to host:port.
func New(host string, port int) *Provider {
	return &Provider{
		host:    host,
		port:    port,
		state:   map[string]any{"status": "idle", "message": "Ready to sync"},
		clients: map[chan []byte]struct{}{},
	}
}

// DisplayCode publishes the QR code location to all connected pages.
func (p *Provider) DisplayCode(imagePath string) {
	p.mu.Lock()
	p.qrPath = imagePath
	p.mu.Unlock()

	p.broadcast(map[string]any{
		"status":  "qr_ready",
		"message": "Please scan the QR code with BankID",
		"qr_url":  "/qr.png",
	})
	fmt.Printf("QR code available at web interface and saved as: %s\n", imagePath)
}

// ReportAuthenticationSuccess pushes the auth confirmation to the page.
func (p *Provider) ReportAuthenticationSuccess() {
	p.broadcast(map[string]any{
		"status":  "authenticated",
		"message": "BankID authentication successful! Starting data sync...",
	})
}

// ReportCompletion pushes the final statistics to the page.
func (p *Provider) ReportCompletion(stats interaction.Stats) {
	p.broadcast(map[string]any{
		"status":  "complete",
		"message": "Sync completed successfully!\n" + stats.Summary(),
		"stats":   stats,
	})
	fmt.Println("\nAll done!")
	fmt.Println(stats.Summary())
	fmt.Printf("Web interface available at http://%s:%d\n", p.host, p.port)
}

// Listen starts the HTTP server and blocks until SIGINT/SIGTERM. Each
// POST /trigger runs callback once; triggers arriving while a run is in
// flight are rejected.
func (p *Provider) Listen(callback func()) error {
	p.callback = callback

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", p.host, p.port),
		Handler: p.Router(),
	}

	go func() {
		log.Printf("Web interface ready at http://%s:%d", p.host, p.port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Web interface failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("Shutting down web interface, waiting up to %v", shutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("web interface shutdown failed: %w", err)
	}
	return nil
}

// Router builds the gin engine serving the interface.
func (p *Provider) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", p.handleIndex)
	router.GET("/events", p.handleEvents)
	router.GET("/qr.png", p.handleQR)
	router.POST("/trigger", p.handleTrigger)
	return router
}

func (p *Provider) handleIndex(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, indexPage)
}

// handleEvents streams state updates as Server-Sent Events. The current
// state is sent immediately so late-joining pages catch up.
func (p *Provider) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	events := p.subscribe()
	defer p.unsubscribe(events)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case data, ok := <-events:
			if !ok {
				return false
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
		case <-ticker.C:
			fmt.Fprint(w, "data: {\"heartbeat\": true}\n\n")
		case <-c.Request.Context().Done():
			return false
		}
		return true
	})
}

func (p *Provider) handleQR(c *gin.Context) {
	p.mu.Lock()
	path := p.qrPath
	p.mu.Unlock()

	if path == "" {
		c.String(http.StatusNotFound, "Not Found")
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.String(http.StatusNotFound, "Not Found")
		return
	}
	c.File(path)
}

// handleTrigger acknowledges immediately and runs the sync in the
// background so the HTTP response never blocks on the pipeline. At most one
// run is in flight at a time; triggers during a run get 409.
func (p *Provider) handleTrigger(c *gin.Context) {
	p.mu.Lock()
	if p.isSyncing {
		p.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"status": "already_running"})
		return
	}
	p.isSyncing = true
	p.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"status": "triggered"})

	go func() {
		defer func() {
			p.mu.Lock()
			p.isSyncing = false
			p.mu.Unlock()
		}()

		p.broadcast(map[string]any{
			"status":  "processing",
			"message": "Starting Kivra sync...",
		})
		if p.callback != nil {
			p.callback()
		}
	}()
}

// subscribe registers an SSE client and queues the current state as its
// first event.
func (p *Provider) subscribe() chan []byte {
	events := make(chan []byte, 16)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[events] = struct{}{}
	if snapshot, err := json.Marshal(p.state); err == nil {
		events <- snapshot
	}
	return events
}

func (p *Provider) unsubscribe(events chan []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, events)
}

// broadcast merges the update into the cached state and fans it out. Slow
// clients with a full queue are skipped, not blocked on.
func (p *Provider) broadcast(update map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, value := range update {
		p.state[key] = value
	}
	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("Web interface: could not encode event: %v", err)
		return
	}
	for client := range p.clients {
		select {
		case client <- data:
		default:
		}
	}
}

const indexPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Kivra Sync</title>
<style>
  body { font-family: system-ui, sans-serif; max-width: 480px; margin: 3rem auto; padding: 0 1rem; }
  h1 { font-size: 1.4rem; }
  #status { white-space: pre-line; margin: 1rem 0; min-height: 3rem; }
  #qr { display: none; max-width: 320px; }
  button { padding: 0.6rem 1.2rem; font-size: 1rem; cursor: pointer; }
</style>
</head>
<body>
<h1>Kivra Sync</h1>
<div id="status">Connecting...</div>
<img id="qr" alt="BankID QR code">
<button id="sync">Sync now</button>
<script>
  const status = document.getElementById('status');
  const qr = document.getElementById('qr');
  const button = document.getElementById('sync');

  const source = new EventSource('/events');
  source.onmessage = (event) => {
    const data = JSON.parse(event.data);
    if (data.heartbeat) return;
    if (data.message) status.textContent = data.message;
    if (data.status === 'qr_ready' && data.qr_url) {
      qr.src = data.qr_url + '?t=' + Date.now();
      qr.style.display = 'block';
    } else if (data.status) {
      qr.style.display = 'none';
    }
    button.disabled = data.status === 'processing' || data.status === 'qr_ready';
  };
  source.onerror = () => { status.textContent = 'Connection lost, retrying...'; };

  button.addEventListener('click', () => fetch('/trigger', { method: 'POST' }));
</script>
</body>
</html>
`
