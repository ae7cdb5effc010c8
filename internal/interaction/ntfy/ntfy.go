// Package ntfy relays QR codes and sync reports through an ntfy topic and
// can listen on the same topic for trigger messages.
package ntfy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mrlokans/kivra-sync/internal/interaction"
)

const (
	// DefaultServer is the public ntfy.sh instance.
	DefaultServer = "https://ntfy.sh"

	// DefaultTriggerMessage starts a sync run when received on the topic.
	DefaultTriggerMessage = "run now"

	reconnectDelay = 10 * time.Second
)

// Provider publishes notifications to an ntfy topic.
type Provider struct {
	server         string
	topic          string
	username       string
	password       string
	triggerMessage string
	httpClient     *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithServer overrides the ntfy server URL.
func WithServer(server string) Option {
	return func(p *Provider) { p.server = strings.TrimRight(server, "/") }
}

// WithBasicAuth sets credentials for protected topics.
func WithBasicAuth(username, password string) Option {
	return func(p *Provider) {
		p.username = username
		p.password = password
	}
}

// WithTriggerMessage overrides the message that starts a sync run.
func WithTriggerMessage(message string) Option {
	return func(p *Provider) { p.triggerMessage = message }
}

// New creates a provider publishing to the given topic.
func New(topic string, opts ...Option) *Provider {
	p := &Provider{
		server:         DefaultServer,
		topic:          topic,
		triggerMessage: DefaultTriggerMessage,
		// No client timeout: Listen holds a streaming connection open.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DisplayCode publishes the QR image as an urgent attachment.
func (p *Provider) DisplayCode(imagePath string) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		log.Printf("ntfy provider: could not read QR code: %v", err)
		fmt.Printf("QR code saved as '%s'\n", imagePath)
		return
	}

	headers := map[string]string{
		"Title":        "Kivra authentication",
		"Priority":     "urgent",
		"Filename":     filepath.Base(imagePath),
		"Content-Type": "application/octet-stream",
	}
	if err := p.publish(imageData, headers); err != nil {
		log.Printf("ntfy provider: failed to send QR code: %v", err)
		fmt.Printf("Failed to send QR code via ntfy. QR code saved as '%s'\n", imagePath)
		return
	}
	fmt.Printf("QR code sent via ntfy to topic '%s'\n", p.topic)
	fmt.Printf("QR code also saved as: %s\n", imagePath)
}

// ReportAuthenticationSuccess publishes the auth confirmation.
func (p *Provider) ReportAuthenticationSuccess() {
	message := "BankID authentication successful! Starting data sync..."
	headers := map[string]string{
		"Title":    "Kivra authentication successful",
		"Priority": "default",
	}
	if err := p.publish([]byte(message), headers); err != nil {
		log.Printf("ntfy provider: failed to send authentication report: %v", err)
	}
	fmt.Println(message)
}

// ReportCompletion publishes the final run statistics.
func (p *Provider) ReportCompletion(stats interaction.Stats) {
	message := "Kivra sync completed\n" + stats.Summary()
	headers := map[string]string{
		"Title":    "Kivra sync completed",
		"Priority": "default",
	}
	if err := p.publish([]byte(message), headers); err != nil {
		log.Printf("ntfy provider: failed to send completion report: %v", err)
	}
	fmt.Println("\nAll done!")
	fmt.Println(stats.Summary())
}

// Listen streams the topic's JSON feed and invokes callback once per
// trigger message. Every failure is logged and retried after a delay;
// Listen blocks for the lifetime of the process.
func (p *Provider) Listen(callback func()) error {
	url := fmt.Sprintf("%s/%s/json", p.server, p.topic)
	log.Printf("ntfy provider: listening for messages on %s", url)
	log.Printf("ntfy provider: trigger message: %q", p.triggerMessage)

	for {
		if err := p.streamOnce(url, callback); err != nil {
			log.Printf("ntfy provider: %v", err)
		}
		time.Sleep(reconnectDelay)
	}
}

// streamOnce holds one streaming connection open and dispatches triggers
// until the server closes it.
func (p *Provider) streamOnce(url string, callback func()) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create listen request: %w", err)
	}
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to connect to ntfy server: status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var message struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(line, &message); err != nil {
			log.Printf("ntfy provider: failed to parse message: %s", string(line))
			continue
		}
		if message.Message == "" {
			continue
		}

		log.Printf("ntfy provider: received message: %s", message.Message)
		if strings.EqualFold(message.Message, p.triggerMessage) {
			log.Printf("ntfy provider: trigger message received, running callback")
			callback()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream error: %w", err)
	}
	return nil
}

// publish posts one notification to the topic.
func (p *Provider) publish(body []byte, headers map[string]string) error {
	url := fmt.Sprintf("%s/%s", p.server, p.topic)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (p *Provider) authorize(req *http.Request) {
	if p.username != "" && p.password != "" {
		req.SetBasicAuth(p.username, p.password)
	}
}
