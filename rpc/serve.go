package rpc

import (
	"log"
	"net/rpc"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	directory "github.com/schemabounce/kolumn/directory"
	"github.com/schemabounce/kolumn/directory/handlers"
)

// PluginName is the name the directory plugin is dispensed under.
const PluginName = "directory"

// Handshake is shared by the plugin and its host.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  uint(directory.ProtocolVersion),
	MagicCookieKey:   "KOLUMN_PLUGIN",
	MagicCookieValue: "kolumn-directory-plugin",
}

// ServeConfig contains configuration for serving the directory plugin
type ServeConfig struct {
	Service *handlers.Service
	Logger  hclog.Logger
	Debug   bool
}

// Serve serves the directory handlers as a plugin. It blocks until the host
// disconnects.
func Serve(config *ServeConfig) {
	if config == nil || config.Service == nil {
		log.Fatal("ServeConfig with a Service is required")
	}

	logger := config.Logger
	if logger == nil {
		level := hclog.Info
		if config.Debug {
			level = hclog.Debug
		}
		logger = hclog.New(&hclog.LoggerOptions{Name: "kolumn-directory", Level: level})
	}

	logger.Info("starting directory plugin",
		"version", directory.Version,
		"protocol_version", directory.ProtocolVersion,
	)

	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap(config.Service, logger),
		Logger:          logger,
	})
}

// PluginMap returns the plugin set served by Serve. Hosts pass it with a nil
// service.
func PluginMap(service *handlers.Service, logger hclog.Logger) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginName: &DirectoryPlugin{Service: service, Logger: logger},
	}
}

// DirectoryPlugin implements the plugin.Plugin interface
type DirectoryPlugin struct {
	Service *handlers.Service
	Logger  hclog.Logger
}

// Server returns the RPC server for this plugin
func (p *DirectoryPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &DirectoryServer{Service: p.Service, Logger: p.Logger}, nil
}

// Client returns the RPC client for this plugin
func (p *DirectoryPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &DirectoryClient{Client: c, Logger: p.Logger}, nil
}
