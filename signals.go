package serializer

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
)

// Signals for serializer events.
var (
	SignalEncodeComplete  = capitan.NewSignal("serializer.encode.complete", "Encode operation finished")
	SignalDecodeComplete  = capitan.NewSignal("serializer.decode.complete", "Decode operation finished")
	SignalValueResolved   = capitan.NewSignal("serializer.value.resolved", "Lazy value decrypted on first access")
	SignalLabelDenied     = capitan.NewSignal("serializer.label.denied", "Label group could not be decrypted")
	SignalResolverHit     = capitan.NewSignal("serializer.resolver.hit", "Resolver cache hit")
	SignalResolverMiss    = capitan.NewSignal("serializer.resolver.miss", "Resolver cache miss")
	SignalResolverEvicted = capitan.NewSignal("serializer.resolver.evicted", "Resolver cache entries evicted")
)

// Keys for typed event data.
var (
	KeyTypeName     = capitan.NewStringKey("type_name")
	KeyCategory     = capitan.NewStringKey("category")
	KeyLabel        = capitan.NewStringKey("label")
	KeySize         = capitan.NewIntKey("size")
	KeyDuration     = capitan.NewDurationKey("duration")
	KeyError        = capitan.NewErrorKey("error")
	KeyEncrypted    = capitan.NewIntKey("encrypted")
	KeyEvictedCount = capitan.NewIntKey("evicted_count")
	KeyCacheSize    = capitan.NewIntKey("cache_size")
)

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// emitEncodeComplete emits an event when encode finishes.
func emitEncodeComplete(ctx context.Context, category Category, typeName string, size int, encrypted bool, duration time.Duration, err error) {
	fields := []capitan.Field{
		KeyCategory.Field(category.String()),
		KeyTypeName.Field(typeName),
		KeySize.Field(size),
		KeyEncrypted.Field(boolInt(encrypted)),
		KeyDuration.Field(duration),
	}
	if err != nil {
		fields = append(fields, KeyError.Field(err))
		capitan.Error(ctx, SignalEncodeComplete, fields...)
	} else {
		capitan.Emit(ctx, SignalEncodeComplete, fields...)
	}
}

// emitDecodeComplete emits an event when decode finishes.
func emitDecodeComplete(ctx context.Context, category Category, typeName string, size int, encrypted bool, duration time.Duration, err error) {
	fields := []capitan.Field{
		KeyCategory.Field(category.String()),
		KeyTypeName.Field(typeName),
		KeySize.Field(size),
		KeyEncrypted.Field(boolInt(encrypted)),
		KeyDuration.Field(duration),
	}
	if err != nil {
		fields = append(fields, KeyError.Field(err))
		capitan.Error(ctx, SignalDecodeComplete, fields...)
	} else {
		capitan.Emit(ctx, SignalDecodeComplete, fields...)
	}
}

// emitValueResolved emits an event when a lazy value is decrypted.
func emitValueResolved(ctx context.Context, typeName string, size int, duration time.Duration, err error) {
	fields := []capitan.Field{
		KeyTypeName.Field(typeName),
		KeySize.Field(size),
		KeyDuration.Field(duration),
	}
	if err != nil {
		fields = append(fields, KeyError.Field(err))
		capitan.Error(ctx, SignalValueResolved, fields...)
	} else {
		capitan.Emit(ctx, SignalValueResolved, fields...)
	}
}

// emitLabelDenied emits an event when a label group is skipped on decrypt.
func emitLabelDenied(ctx context.Context, typeName, label string, err error) {
	capitan.Emit(ctx, SignalLabelDenied,
		KeyTypeName.Field(typeName),
		KeyLabel.Field(label),
		KeyError.Field(err),
	)
}

// emitResolverLookup emits a cache hit or miss event.
func emitResolverLookup(ctx context.Context, hit bool, size int) {
	signal := SignalResolverMiss
	if hit {
		signal = SignalResolverHit
	}
	capitan.Emit(ctx, signal, KeyCacheSize.Field(size))
}

// emitResolverEvicted emits an event when cache entries are evicted.
func emitResolverEvicted(ctx context.Context, evicted, size int) {
	capitan.Emit(ctx, SignalResolverEvicted,
		KeyEvictedCount.Field(evicted),
		KeyCacheSize.Field(size),
	)
}
