package xerrors

import (
	"errors"
	"testing"
)

func TestWrap(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Wrap(nil) = %v，期望 nil", err)
	}

	base := errors.New("base error")
	wrapped := Wrap(base, "context")
	if wrapped.Error() != "context: base error" {
		t.Errorf("Wrap(err).Error() = %q，期望 %q", wrapped.Error(), "context: base error")
	}
	if !errors.Is(wrapped, base) {
		t.Error("errors.Is(wrapped, base) = false，期望 true")
	}
}

func TestWrapf(t *testing.T) {
	if err := Wrapf(nil, "invoice %d", 9); err != nil {
		t.Errorf("Wrapf(nil) = %v，期望 nil", err)
	}

	wrapped := Wrapf(ErrNotFound, "invoice %d", 9)
	if wrapped.Error() != "invoice 9: not found" {
		t.Errorf("Wrapf(err).Error() = %q", wrapped.Error())
	}
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("errors.Is(wrapped, ErrNotFound) = false，期望 true")
	}
}

func TestWithCode(t *testing.T) {
	if err := WithCode(nil, "CODE"); err != nil {
		t.Errorf("WithCode(nil) = %v，期望 nil", err)
	}

	coded := WithCode(ErrConflict, "IDEMPOTENCY_KEY_CONFLICT")
	if coded.Error() != "[IDEMPOTENCY_KEY_CONFLICT] conflict" {
		t.Errorf("WithCode(err).Error() = %q", coded.Error())
	}
	if code := GetCode(Wrap(coded, "begin")); code != "IDEMPOTENCY_KEY_CONFLICT" {
		t.Errorf("GetCode(wrapped) = %q", code)
	}
	if !errors.Is(coded, ErrConflict) {
		t.Error("带码错误应保留错误链")
	}
}

func TestHasCode(t *testing.T) {
	inner := WithCode(ErrUnavailable, "INNER")
	outer := WithCode(Wrap(inner, "store"), "OUTER")

	if !HasCode(outer, "OUTER") || !HasCode(outer, "INNER") {
		t.Error("HasCode 应能找到链上的所有错误码")
	}
	if HasCode(outer, "MISSING") {
		t.Error("HasCode(MISSING) = true，期望 false")
	}
	if HasCode(nil, "OUTER") {
		t.Error("HasCode(nil) = true，期望 false")
	}
}

func TestMust(t *testing.T) {
	if v := Must(42, nil); v != 42 {
		t.Errorf("Must(42, nil) = %d，期望 42", v)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("Must(_, err) 未触发 panic")
		}
	}()
	Must(0, errors.New("error"))
}

func TestCombine(t *testing.T) {
	if err := Combine(nil, nil); err != nil {
		t.Errorf("Combine(nil, nil) = %v，期望 nil", err)
	}

	err1 := errors.New("error 1")
	if err := Combine(nil, err1); err != err1 {
		t.Errorf("Combine(nil, err1) = %v，期望 %v", err, err1)
	}

	err2 := errors.New("error 2")
	combined := Combine(err1, err2)
	if combined.Error() != "error 1 (and 1 more errors)" {
		t.Errorf("combined.Error() = %q", combined.Error())
	}
	if !errors.Is(combined, err1) || !errors.Is(combined, err2) {
		t.Error("errors.Is 应能匹配 MultiError 中的每个错误")
	}
}
