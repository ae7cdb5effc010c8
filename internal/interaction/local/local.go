// Package local is the default interaction provider: it prints to the
// terminal and opens the QR code with the system image viewer.
package local

import (
	"fmt"
	"log"
	"os/exec"
	"runtime"

	"github.com/mrlokans/kivra-sync/internal/interaction"
)

// Provider reports to stdout and opens QR codes locally.
type Provider struct{}

// New returns a local console provider.
func New() *Provider {
	return &Provider{}
}

// DisplayCode opens the QR image with the platform's default viewer. When
// no viewer is available the saved path is still printed so the user can
// open it by hand.
func (p *Provider) DisplayCode(imagePath string) {
	if err := openImage(imagePath); err != nil {
		log.Printf("Local provider: could not open QR code viewer: %v", err)
	}
	fmt.Printf("QR code has been saved as: %s\n", imagePath)
}

func (p *Provider) ReportAuthenticationSuccess() {
	fmt.Println("BankID authentication successful! Starting data sync...")
}

func (p *Provider) ReportCompletion(stats interaction.Stats) {
	fmt.Println("\nAll done!")
	fmt.Println(stats.Summary())
}

func openImage(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}
