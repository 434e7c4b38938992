package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.UTC().Format(time.RFC3339Nano)}
}

func Strings(key string, values []string) Field {
	return Field{Key: key, Value: values}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain field helpers
func Component(name string) Field {
	return String("component", name)
}

func NodeID(id string) Field {
	return String("node_id", id)
}

func Peer(addr string) Field {
	return String("peer", addr)
}

func TaskID(id string) Field {
	return String("task_id", id)
}

func ScheduleID(id string) Field {
	return String("schedule_id", id)
}

func Participant(name string) Field {
	return String("participant", name)
}

func ObjectID(id string) Field {
	return String("object_id", id)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}
