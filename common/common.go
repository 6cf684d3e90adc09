package common

import (
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type AppDirectories struct {
	WorkingDir   string
	Assets       string
	Applications string
	Logs         string
}

var AppDirs AppDirectories

func init() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get home directory: %s", err)
	}

	AppDirs = AppDirectories{
		WorkingDir:   filepath.Join(homeDir, ".ipahook"),
		Assets:       filepath.Join(homeDir, ".ipahook", "assets"),
		Applications: filepath.Join(homeDir, ".ipahook", "applications"),
		Logs:         filepath.Join(homeDir, ".ipahook", "logs"),
	}

	dirs := []string{
		AppDirs.WorkingDir,
		AppDirs.Assets,
		AppDirs.Applications,
		AppDirs.Logs,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create directory '%s': %s", dir, err)
		}
	}
}

// DefaultHookPath is where the replacement executable is staged.
func DefaultHookPath() string {
	return filepath.Join(AppDirs.Assets, "hook")
}

// DefaultMusselPath is where the mussel helper binary is staged.
func DefaultMusselPath() string {
	return filepath.Join(AppDirs.Assets, "Mussel.app", "mussel")
}

// DefaultStorePath is where the patch history database lives.
func DefaultStorePath() string {
	return filepath.Join(AppDirs.WorkingDir, "ipahook.db")
}

// EndpointTag encodes a tcp://host:port endpoint as the opaque tag stored
// in the bundle metadata. Empty when no endpoint is configured.
func EndpointTag(host string, port int) string {
	if host == "" || port <= 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("tcp://%s:%d", host, port)))
}

// DownloadIfURL fetches http(s) inputs into the applications directory and
// returns the local path; plain filesystem paths pass through unchanged.
func DownloadIfURL(appPath string) (string, error) {
	if !strings.HasPrefix(appPath, "http://") && !strings.HasPrefix(appPath, "https://") {
		return appPath, nil
	}
	parsedURL, err := url.Parse(appPath)
	if err != nil {
		return appPath, err
	}
	name := path.Base(parsedURL.Path)
	if name == "/" || name == "." || name == "" {
		// URL carries no usable filename
		name = "download-" + uuid.NewString() + ".ipa"
	}
	filePath := filepath.Join(AppDirs.Applications, name)
	resp, err := http.Get(appPath)
	if err != nil {
		return appPath, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return appPath, fmt.Errorf("download %s: %s", appPath, resp.Status)
	}

	out, err := os.Create(filePath)
	if err != nil {
		return appPath, err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return filePath, err
}
