package model

import (
	"errors"
	"testing"

	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
)

func TestKindValidate(t *testing.T) {
	for _, k := range []Kind{KindTag, KindAuthor, KindCollection} {
		if err := k.Validate(); err != nil {
			t.Errorf("%v: unexpected error %v", k, err)
		}
	}
	for _, k := range []Kind{-1, 3, 42} {
		if err := k.Validate(); !errors.Is(err, apperrors.ErrUnknownKind) {
			t.Errorf("%d: err = %v, want ErrUnknownKind", int(k), err)
		}
	}
}

func TestSubjectString(t *testing.T) {
	s := Subject{ID: "255dbed17b9e", Kind: KindCollection}
	if got := s.String(); got != "collection:255dbed17b9e" {
		t.Errorf("String() = %q", got)
	}
	if got := Kind(9).String(); got != "kind(9)" {
		t.Errorf("String() = %q", got)
	}
}
