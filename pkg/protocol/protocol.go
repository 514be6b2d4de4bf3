// Package protocol defines the closed catalog of protocols the engine can
// identify, together with the result types produced by a detection run.
package protocol

import (
	"strings"
	"time"
)

// Tag identifies a protocol. The builtin set is closed; user-supplied probes
// may report custom tags created with Custom.
type Tag string

const (
	HTTP10    Tag = "http/1.0"
	HTTP11    Tag = "http/1.1"
	HTTP2     Tag = "http/2"
	HTTP3     Tag = "http/3"
	TLS       Tag = "tls"
	SSH       Tag = "ssh"
	WebSocket Tag = "websocket"
	GRPC      Tag = "grpc"
	QUIC      Tag = "quic"
	MQTT      Tag = "mqtt"
	DNS       Tag = "dns"
	TCP       Tag = "tcp"
	UDP       Tag = "udp"
	Unknown   Tag = "unknown"
)

const customPrefix = "custom:"

// Custom builds a tag for a user-defined protocol.
func Custom(name string) Tag {
	return Tag(customPrefix + name)
}

// IsCustom reports whether t was created with Custom.
func (t Tag) IsCustom() bool {
	return strings.HasPrefix(string(t), customPrefix)
}

// CustomName returns the name a custom tag was created with, or "".
func (t Tag) CustomName() string {
	if !t.IsCustom() {
		return ""
	}
	return strings.TrimPrefix(string(t), customPrefix)
}

// TransportClass is the transport a protocol rides on.
type TransportClass int

const (
	Stream TransportClass = iota
	Datagram
)

func (c TransportClass) String() string {
	if c == Datagram {
		return "datagram"
	}
	return "stream"
}

// Category groups related protocols.
type Category int

const (
	CategoryWeb Category = iota
	CategorySecure
	CategoryMessaging
	CategoryInfra
	CategoryCustom
)

func (c Category) String() string {
	switch c {
	case CategoryWeb:
		return "web"
	case CategorySecure:
		return "secure"
	case CategoryMessaging:
		return "messaging"
	case CategoryInfra:
		return "infra"
	default:
		return "custom"
	}
}

type tagTraits struct {
	display   string
	shortCode string
	transport TransportClass
	category  Category
}

var traits = map[Tag]tagTraits{
	HTTP10:    {"HTTP/1.0", "h1", Stream, CategoryWeb},
	HTTP11:    {"HTTP/1.1", "h1", Stream, CategoryWeb},
	HTTP2:     {"HTTP/2", "h2", Stream, CategoryWeb},
	HTTP3:     {"HTTP/3", "h3", Datagram, CategoryWeb},
	TLS:       {"TLS", "tls", Stream, CategorySecure},
	SSH:       {"SSH", "ssh", Stream, CategorySecure},
	WebSocket: {"WebSocket", "ws", Stream, CategoryWeb},
	GRPC:      {"gRPC", "grpc", Stream, CategoryWeb},
	QUIC:      {"QUIC", "quic", Datagram, CategorySecure},
	MQTT:      {"MQTT", "mqtt", Stream, CategoryMessaging},
	DNS:       {"DNS", "dns", Datagram, CategoryInfra},
	TCP:       {"TCP", "tcp", Stream, CategoryInfra},
	UDP:       {"UDP", "udp", Datagram, CategoryInfra},
	Unknown:   {"Unknown", "unknown", Stream, CategoryInfra},
}

// All returns the builtin tags in catalog order, excluding Unknown.
func All() []Tag {
	return []Tag{
		HTTP10, HTTP11, HTTP2, HTTP3, TLS, SSH,
		WebSocket, GRPC, QUIC, MQTT, DNS, TCP, UDP,
	}
}

// Display returns the human readable protocol name.
func (t Tag) Display() string {
	if tr, ok := traits[t]; ok {
		return tr.display
	}
	if t.IsCustom() {
		return t.CustomName()
	}
	return string(t)
}

// ShortCode returns the compact protocol code (h1, h2, tls, ...).
func (t Tag) ShortCode() string {
	if tr, ok := traits[t]; ok {
		return tr.shortCode
	}
	if t.IsCustom() {
		return t.CustomName()
	}
	return string(t)
}

// Transport returns the transport class the protocol rides on. Custom tags
// default to Stream.
func (t Tag) Transport() TransportClass {
	if tr, ok := traits[t]; ok {
		return tr.transport
	}
	return Stream
}

// Categorize returns the protocol category.
func (t Tag) Categorize() Category {
	if tr, ok := traits[t]; ok {
		return tr.category
	}
	return CategoryCustom
}

func (t Tag) IsWeb() bool       { return t.Categorize() == CategoryWeb }
func (t Tag) IsSecure() bool    { return t.Categorize() == CategorySecure }
func (t Tag) IsMessaging() bool { return t.Categorize() == CategoryMessaging }
func (t Tag) IsInfra() bool     { return t.Categorize() == CategoryInfra }

// Fields is an insertion-ordered string-to-string mapping used for probe
// features and metadata. Keys with empty values are rejected.
type Fields struct {
	keys   []string
	values map[string]string
}

// Set records key=value, preserving first-insertion order. Empty values are
// dropped so consumers never see a key without evidence behind it.
func (f *Fields) Set(key, value string) {
	if key == "" || value == "" {
		return
	}
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Get returns the value for key and whether it is present.
func (f *Fields) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (f *Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of recorded keys.
func (f *Fields) Len() int { return len(f.keys) }

// Each calls fn for every key/value pair in insertion order.
func (f *Fields) Each(fn func(key, value string)) {
	for _, k := range f.keys {
		fn(k, f.values[k])
	}
}

// Map returns a copy of the mapping. Ordering is not preserved; use Each when
// order matters.
func (f *Fields) Map() map[string]string {
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// Info is the classification a probe or signature produced for a window.
type Info struct {
	Tag        Tag
	Confidence float64
	Features   Fields
	Metadata   Fields
}

// NewInfo builds an Info with the confidence clamped into [0,1].
func NewInfo(tag Tag, confidence float64) Info {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Info{Tag: tag, Confidence: confidence}
}

// Method records how a detection verdict was reached.
type Method int

const (
	// MethodMagicByte means the literal signature fast path alone decided.
	MethodMagicByte Method = iota
	// MethodHeuristic means a single probe decided.
	MethodHeuristic
	// MethodStatistical means two or more probes agreed on the tag.
	MethodStatistical
	// MethodCombined means the fast path and at least one probe agreed.
	MethodCombined
)

func (m Method) String() string {
	switch m {
	case MethodMagicByte:
		return "magic-byte"
	case MethodHeuristic:
		return "heuristic"
	case MethodStatistical:
		return "statistical"
	default:
		return "combined"
	}
}

// Result is the immutable outcome of one classification call.
type Result struct {
	Info      Info
	Elapsed   time.Duration
	Method    Method
	ProbeName string
}

// Tag is shorthand for Result.Info.Tag.
func (r Result) Tag() Tag { return r.Info.Tag }

// Confidence is shorthand for Result.Info.Confidence.
func (r Result) Confidence() float64 { return r.Info.Confidence }
