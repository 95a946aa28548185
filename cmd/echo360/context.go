package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hananf11/echo360/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	httpClient *http.Client
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiBase resolves the daemon address: the --api flag wins, else the
// configured bind address.
func (c *commandContext) apiBase() (string, error) {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return "http://" + strings.TrimSpace(*c.apiFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Paths.APIBind, nil
}

func (c *commandContext) getJSON(path string, out any) error {
	return c.doJSON(http.MethodGet, path, nil, out)
}

func (c *commandContext) postJSON(path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	return c.doJSON(http.MethodPost, path, reader, out)
}

func (c *commandContext) deleteJSON(path string, out any) error {
	return c.doJSON(http.MethodDelete, path, nil, out)
}

func (c *commandContext) doJSON(method, path string, body io.Reader, out any) error {
	base, err := c.apiBase()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapDialError(err, base)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start it with `echo360 serve`", base)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
