package events

import "go.uber.org/zap"

// ZapEmitter writes events to a structured logger.
type ZapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter wraps a logger as an event sink.
func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	return &ZapEmitter{logger: logger}
}

// Emit logs the event at info level, failures at warn.
func (z *ZapEmitter) Emit(event *LookupEvent) {
	fields := []zap.Field{
		zap.String("lookup_id", event.LookupID),
		zap.String("number", event.Number),
		zap.String("kind", string(event.Kind)),
	}
	if event.Site != "" {
		fields = append(fields, zap.String("site", string(event.Site)))
	}
	if event.URL != "" {
		fields = append(fields, zap.String("url", event.URL))
	}
	if event.Err != "" {
		fields = append(fields, zap.String("error", event.Err))
		z.logger.Warn(event.String(), fields...)
		return
	}
	z.logger.Info(event.String(), fields...)
}

// Close flushes the underlying logger.
func (z *ZapEmitter) Close() error {
	_ = z.logger.Sync()
	return nil
}
