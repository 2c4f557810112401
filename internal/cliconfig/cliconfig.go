// Package cliconfig loads connection profiles for the wsclient command from
// a YAML file.
//
//	default: local
//	profiles:
//	  local:
//	    url: ws://localhost:8080/ws
//	    subprotocols: [chat]
//	    compress: true
//	    headers:
//	      Authorization: Bearer token
//	    handshake_timeout: 10s
package cliconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coregx/wsclient/websocket"
	"github.com/coregx/wsclient/websocket/deflate"
)

// Common errors for profile loading.
var (
	ErrFileNotFound    = errors.New("configuration file not found")
	ErrInvalidYAML     = errors.New("invalid YAML syntax")
	ErrEmptyFile       = errors.New("configuration file is empty")
	ErrProfileNotFound = errors.New("profile not found")
)

// File is the top-level configuration document.
type File struct {
	// Default names the profile used when none is selected.
	Default  string             `yaml:"default"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Profile describes one server and how to connect to it.
type Profile struct {
	URL                   string            `yaml:"url"`
	Headers               map[string]string `yaml:"headers"`
	Subprotocols          []string          `yaml:"subprotocols"`
	Compress              bool              `yaml:"compress"`
	NoContextTakeover     bool              `yaml:"no_context_takeover"`
	MaxMessageSize        int64             `yaml:"max_message_size"`
	MaxFramePayloadLength int               `yaml:"max_frame_payload_length"`
	HandshakeTimeout      time.Duration     `yaml:"handshake_timeout"`
	CloseTimeout          time.Duration     `yaml:"close_timeout"`
}

// Load reads and parses a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a configuration document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFile
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}
	return &f, nil
}

// Profile returns the named profile, or the default one when name is empty.
func (f *File) Profile(name string) (Profile, error) {
	if name == "" {
		name = f.Default
	}
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q (have %v)", ErrProfileNotFound, name, f.names())
	}
	return p, nil
}

func (f *File) names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config converts the profile into a connection config. Compression
// registers permessage-deflate in a fresh registry.
func (p Profile) Config() *websocket.Config {
	cfg := &websocket.Config{
		MaxMessageSize:        p.MaxMessageSize,
		MaxFramePayloadLength: p.MaxFramePayloadLength,
		HandshakeTimeout:      p.HandshakeTimeout,
		CloseTimeout:          p.CloseTimeout,
		Subprotocols:          p.Subprotocols,
	}

	if len(p.Headers) > 0 {
		cfg.Header = make(http.Header, len(p.Headers))
		for k, v := range p.Headers {
			cfg.Header.Set(k, v)
		}
	}

	if p.Compress {
		cfg.Registry = websocket.NewRegistry()
		deflate.Register(cfg.Registry, deflate.Options{
			MaxMessageSize:          p.MaxMessageSize,
			ClientNoContextTakeover: p.NoContextTakeover,
			ServerNoContextTakeover: p.NoContextTakeover,
		})
	}

	return cfg
}
