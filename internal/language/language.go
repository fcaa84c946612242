package language

import (
	"sort"
	"strings"
)

// Code is a lowercase ISO 639-1 language code such as "en" or "cs".
type Code string

func (c Code) String() string { return string(c) }

var names = map[Code]string{
	"en": "English",
	"es": "Spanish",
	"cs": "Czech",
	"sk": "Slovak",
	"de": "German",
	"fr": "French",
	"it": "Italian",
	"pl": "Polish",
	"pt": "Portuguese",
	"nl": "Dutch",
	"uk": "Ukrainian",
	"ru": "Russian",
}

// Name returns the English display name of c, or the raw code when unknown.
func Name(c Code) string {
	if n, ok := names[c]; ok {
		return n
	}
	return string(c)
}

// Normalize lowercases raw and strips any region suffix ("en-US", "cs_CZ").
func Normalize(raw string) Code {
	v := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(v, "-_"); i > 0 {
		v = v[:i]
	}
	return Code(v)
}

// Set is an immutable, ordered set of language codes.
type Set struct {
	codes   map[Code]struct{}
	ordered []Code
}

func NewSet(codes ...Code) Set {
	s := Set{codes: make(map[Code]struct{}, len(codes))}
	for _, c := range codes {
		c = Normalize(string(c))
		if c == "" {
			continue
		}
		if _, dup := s.codes[c]; dup {
			continue
		}
		s.codes[c] = struct{}{}
		s.ordered = append(s.ordered, c)
	}
	return s
}

// ParseSet builds a Set from a comma separated list.
func ParseSet(raw string) Set {
	parts := strings.Split(raw, ",")
	codes := make([]Code, 0, len(parts))
	for _, p := range parts {
		codes = append(codes, Normalize(p))
	}
	return NewSet(codes...)
}

func (s Set) Contains(c Code) bool {
	_, ok := s.codes[c]
	return ok
}

func (s Set) Len() int { return len(s.ordered) }

// List returns the codes in insertion order.
func (s Set) List() []Code {
	out := make([]Code, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Sorted returns the codes in lexical order.
func (s Set) Sorted() []Code {
	out := s.List()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
