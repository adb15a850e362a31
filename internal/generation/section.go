package generation

import (
	"errors"
	"fmt"
)

type Section string

const (
	SectionThumbnails  Section = "thumbnails"
	SectionDescription Section = "description"
	SectionTags        Section = "tags"
)

// Sections lists every generation target in display order.
var Sections = []Section{SectionThumbnails, SectionDescription, SectionTags}

func ParseSection(raw string) (Section, error) {
	for _, s := range Sections {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSection, raw)
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

var (
	ErrSectionBusy    = errors.New("section already loading")
	ErrUnknownSection = errors.New("unknown section")
)

// SectionState tracks one generation target. Data survives a later failure;
// it is only authoritative while Status is success.
type SectionState[T any] struct {
	Status Status `json:"status"`
	Data   *T     `json:"data"`
	Error  string `json:"error"`
}

func (s *SectionState[T]) Begin() error {
	if s.Status == StatusLoading {
		return ErrSectionBusy
	}
	s.Status = StatusLoading
	s.Error = ""
	return nil
}

func (s *SectionState[T]) Succeed(data T) {
	s.Status = StatusSuccess
	s.Data = &data
	s.Error = ""
}

func (s *SectionState[T]) Fail(message string) {
	s.Status = StatusError
	s.Error = message
}

func (s *SectionState[T]) Reset() {
	*s = SectionState[T]{Status: StatusIdle}
}

// settle drops a loading status that can no longer complete, used when
// state is restored from a snapshot. The section returns to idle; data from
// an earlier success is kept but is no longer authoritative.
func (s *SectionState[T]) settle() {
	switch s.Status {
	case StatusLoading, "":
		s.Status = StatusIdle
		s.Error = ""
	}
}

// SectionView is the untyped projection of a SectionState used in snapshots
// and events.
type SectionView struct {
	Section Section `json:"section"`
	Status  Status  `json:"status"`
	Data    any     `json:"data"`
	Error   string  `json:"error,omitempty"`
}

func (s *SectionState[T]) view(name Section) SectionView {
	v := SectionView{Section: name, Status: s.Status, Error: s.Error}
	if s.Data != nil {
		v.Data = *s.Data
	}
	return v
}
