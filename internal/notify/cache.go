// Package notify caches the arrival and departure notification templates.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/roach88/geofencer/internal/geo"
	"github.com/roach88/geofencer/internal/store"
)

// Durable keys.
const (
	KeyArriving = "arrivingNotification"
	KeyLeaving  = "leavingNotification"
)

// Cache holds the two optional templates. It loads lazily from the key-value
// store the first time a template is needed, unless Load was called.
//
// Not safe for concurrent use.
type Cache struct {
	kv       store.KeyValue
	logger   *slog.Logger
	loaded   bool
	arriving *geo.NotificationTemplate
	leaving  *geo.NotificationTemplate
}

// NewCache creates an unloaded cache.
func NewCache(kv store.KeyValue, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{kv: kv, logger: logger}
}

// Load reads both templates. A missing or undecodable entry leaves that
// template unset; the first error is returned.
func (c *Cache) Load(ctx context.Context) error {
	arriving, errA := c.read(ctx, KeyArriving)
	leaving, errL := c.read(ctx, KeyLeaving)
	c.arriving, c.leaving = arriving, leaving
	c.loaded = true
	if errA != nil {
		return errA
	}
	return errL
}

func (c *Cache) read(ctx context.Context, key string) (*geo.NotificationTemplate, error) {
	data, found, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, geo.NewPersistenceError("load "+key, err)
	}
	if !found || len(data) == 0 {
		return nil, nil
	}
	var tmpl geo.NotificationTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, geo.NewPersistenceError("decode "+key, err)
	}
	return &tmpl, nil
}

// SetTemplates replaces both templates and persists them. A nil template
// clears it and deletes its key.
func (c *Cache) SetTemplates(ctx context.Context, arriving, leaving *geo.NotificationTemplate) error {
	c.arriving = cloneTemplate(arriving)
	c.leaving = cloneTemplate(leaving)
	c.loaded = true

	errA := c.write(ctx, KeyArriving, arriving)
	errL := c.write(ctx, KeyLeaving, leaving)
	if errA != nil {
		return errA
	}
	return errL
}

func (c *Cache) write(ctx context.Context, key string, tmpl *geo.NotificationTemplate) error {
	var err error
	if tmpl == nil {
		err = c.kv.Delete(ctx, key)
	} else {
		data, _ := json.Marshal(tmpl)
		err = c.kv.Put(ctx, key, data)
	}
	if err != nil {
		perr := geo.NewPersistenceError("save "+key, err)
		c.logger.Error("persisting notification template failed", "key", key, "error", perr)
		return perr
	}
	return nil
}

// Template returns the template for a crossing kind: arriving for ENTER,
// leaving for EXIT.
func (c *Cache) Template(ctx context.Context, kind geo.CrossingKind) (geo.NotificationTemplate, bool) {
	if !c.loaded {
		if err := c.Load(ctx); err != nil {
			c.logger.Warn("loading notification templates failed", "error", err)
		}
	}

	var tmpl *geo.NotificationTemplate
	switch kind {
	case geo.CrossingEntry:
		tmpl = c.arriving
	case geo.CrossingExit:
		tmpl = c.leaving
	}
	if tmpl == nil {
		return geo.NotificationTemplate{}, false
	}
	return *tmpl, true
}

func cloneTemplate(t *geo.NotificationTemplate) *geo.NotificationTemplate {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
