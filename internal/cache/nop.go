package cache

import (
	"context"
	"time"

	"podlog/internal/podlog"
)

// NopCache never stores anything. Every read is a miss.
type NopCache struct{}

var _ podlog.Cache = NopCache{}

func (NopCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (NopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NopCache) Delete(context.Context, string) error                     { return nil }
func (NopCache) DeleteByPattern(context.Context, string) error            { return nil }
func (NopCache) Flush(context.Context) error                              { return nil }
func (NopCache) Close() error                                             { return nil }
