package config

import (
	"net/url"

	"flowpilot-go/infrastructure/browser"
	"flowpilot-go/infrastructure/logging"
	"flowpilot-go/infrastructure/repository"
)

// DriverConfig builds the browser driver configuration.
func (c *Config) DriverConfig() *browser.DriverConfig {
	d := browser.DefaultDriverConfig()
	d.Headless = c.Browser.Headless
	d.UserDataDir = c.Browser.UserDataDir
	d.DownloadDir = c.Browser.DownloadDir
	d.ExecPath = c.Browser.ExecPath
	if c.Browser.UserAgent != "" {
		d.UserAgent = c.Browser.UserAgent
	}
	d.WindowWidth = c.Browser.WindowWidth
	d.WindowHeight = c.Browser.WindowHeight
	d.ViewportWidth = c.Browser.WindowWidth
	d.ViewportHeight = c.Browser.WindowHeight
	d.Locale = c.Browser.Locale
	d.Timezone = c.Browser.Timezone
	d.Geolocation.Latitude = c.Browser.Latitude
	d.Geolocation.Longitude = c.Browser.Longitude
	d.ActionTimeout = c.Browser.ActionTimeout
	d.NavigationTimeout = c.Automation.NavigationTimeout
	if u, err := url.Parse(c.Target.URL); err == nil && u.Host != "" {
		d.PermissionOrigin = u.Scheme + "://" + u.Host
	}
	return d
}

// LoggingConfig builds the logging setup configuration.
func (c *Config) LoggingConfig() (*logging.Config, error) {
	lc := logging.DefaultConfig()
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = c.Logging.Format
	lc.Dir = c.Logging.Dir
	lc.Console = c.Logging.Console
	return lc, nil
}

// MongoDBConfig builds the repository connection configuration.
func (c *Config) MongoDBConfig() *repository.MongoDBConfig {
	mc := repository.DefaultMongoDBConfig()
	mc.URI = c.Mongo.URI
	mc.Database = c.Mongo.Database
	return mc
}
