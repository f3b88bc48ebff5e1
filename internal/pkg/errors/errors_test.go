package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	cause := stderrors.New("connection refused")
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"code only", New(CodeTransport, "backend down"), "[TRANSPORT_ERROR] backend down"},
		{"formatted", Newf(CodePollFatal, "job %s gone", "j-1"), "[POLL_FATAL] job j-1 gone"},
		{"with op and cause", WrapWithCode(cause, CodeTransport, "render.poll", "poll request"), "render.poll: [TRANSPORT_ERROR] poll request: connection refused"},
		{"no code", &Error{Op: "render.submit", Message: "bad"}, "render.submit: bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStackPointsAtCaller(t *testing.T) {
	for name, err := range map[string]*Error{
		"New":             New(CodeInternal, "x"),
		"Newf":            Newf(CodeInternal, "%d", 1),
		"NotFound":        NotFound("composition", "c"),
		"ValidationField": ValidationField("compositionId", "required"),
		"Wrap":            Wrap(stderrors.New("x"), "op", "m"),
	} {
		if len(err.Stack) == 0 {
			t.Errorf("%s: empty stack", name)
			continue
		}
		if !strings.HasSuffix(err.Stack[0].File, "errors_test.go") {
			t.Errorf("%s: first frame %s, want the test file", name, err.Stack[0].File)
		}
		if !strings.Contains(err.StackTrace(), "errors_test.go:") {
			t.Errorf("%s: StackTrace missing caller:\n%s", name, err.StackTrace())
		}
	}

	if (&Error{}).StackTrace() != "" {
		t.Error("empty stack should format as empty string")
	}
}

func TestWrap(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if Wrap(nil, "op", "m") != nil || Wrapf(nil, "op", "%s", "m") != nil || WrapWithCode(nil, CodeTransport, "op", "m") != nil {
			t.Error("wrapping nil must return nil")
		}
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		cause := stderrors.New("disk full")
		w := Wrap(cause, "artifacts.Store", "copy output")
		if w.Code != CodeInternal {
			t.Errorf("Code = %s", w.Code)
		}
		if stderrors.Unwrap(w) != cause {
			t.Error("Unwrap should return the cause")
		}
	})

	t.Run("coded error keeps code and fields", func(t *testing.T) {
		inner := NotFound("artifact", "r-1")
		w := Wrapf(inner, "handlers.GetArtifact", "lookup %s", "r-1")
		if w.Code != CodeNotFound || w.Message != "lookup r-1" {
			t.Errorf("got %+v", w)
		}
		if GetFields(w)["id"] != "r-1" {
			t.Errorf("fields not carried: %v", GetFields(w))
		}
	})

	t.Run("fields added to the wrapper stay on the wrapper", func(t *testing.T) {
		inner := New(CodePollFatal, "job vanished").WithField("job_id", "j1")
		outer := Wrap(inner, "render.poll", "poll job").WithField("attempt", 3)

		if len(inner.Fields) != 1 || inner.Fields["job_id"] != "j1" {
			t.Errorf("inner fields changed: %v", inner.Fields)
		}
		if outer.Fields["job_id"] != "j1" || outer.Fields["attempt"] != 3 {
			t.Errorf("outer fields = %v", outer.Fields)
		}
	})

	t.Run("explicit code overrides", func(t *testing.T) {
		w := WrapWithCode(New(CodeTransport, "x"), CodePollExhausted, "render.poll", "gave up")
		if w.Code != CodePollExhausted || !HasCode(w, CodeTransport) {
			t.Errorf("got %+v", w)
		}
	})
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		code   Code
		msg    string
		fields map[string]any
	}{
		{"not found", NotFound("composition", "intro"), CodeNotFound, "composition not found: intro", map[string]any{"resource": "composition", "id": "intro"}},
		{"validation", Validation("props must be an object"), CodeValidation, "props must be an object", nil},
		{"validation field", ValidationField("compositionId", "required"), CodeValidation, "required", map[string]any{"field": "compositionId"}},
		{"unavailable", Unavailable("storage"), CodeUnavailable, "service unavailable: storage", map[string]any{"service": "storage"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code || tt.err.Message != tt.msg {
				t.Errorf("got %s %q", tt.err.Code, tt.err.Message)
			}
			for k, v := range tt.fields {
				if tt.err.Fields[k] != v {
					t.Errorf("field %s = %v, want %v", k, tt.err.Fields[k], v)
				}
			}
			if tt.fields == nil && tt.err.Fields != nil {
				t.Errorf("unexpected fields %v", tt.err.Fields)
			}
		})
	}

	e := New(CodeSubmission, "rejected").WithField("status", 422)
	if e.Fields["status"] != 422 {
		t.Errorf("WithField: %v", e.Fields)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Code]int{
		CodeValidation:        http.StatusBadRequest,
		CodeBadRequest:        http.StatusBadRequest,
		CodeNotFound:          http.StatusNotFound,
		CodeConflict:          http.StatusConflict,
		CodeResourceExhaust:   http.StatusTooManyRequests,
		CodeUnavailable:       http.StatusServiceUnavailable,
		CodePollTransient:     http.StatusServiceUnavailable,
		CodeTimeout:           http.StatusGatewayTimeout,
		CodeSubmission:        http.StatusBadGateway,
		CodeTransport:         http.StatusBadGateway,
		CodePollFatal:         http.StatusBadGateway,
		CodePollExhausted:     http.StatusBadGateway,
		CodeMalformedResponse: http.StatusBadGateway,
		CodeRenderFailed:      http.StatusBadGateway,
		CodeInternal:          http.StatusInternalServerError,
		CodeCancelled:         http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := New(code, "x").HTTPStatus(); got != want {
			t.Errorf("%s: HTTPStatus() = %d, want %d", code, got, want)
		}
	}

	if got := New(Code("SOMETHING_ELSE"), "x").HTTPStatus(); got != http.StatusInternalServerError {
		t.Errorf("unknown code: HTTPStatus() = %d", got)
	}

	wrapped := fmt.Errorf("handler: %w", NotFound("artifact", "x"))
	if GetHTTPStatus(wrapped) != http.StatusNotFound {
		t.Errorf("GetHTTPStatus through fmt wrap = %d", GetHTTPStatus(wrapped))
	}
	if GetHTTPStatus(stderrors.New("plain")) != http.StatusInternalServerError {
		t.Error("plain errors should map to 500")
	}
}

func TestCodeInspection(t *testing.T) {
	transport := New(CodeTransport, "503 from backend")
	exhausted := WrapWithCode(transport, CodePollExhausted, "render.poll", "retry budget spent")
	plain := stderrors.New("boom")

	if GetCode(exhausted) != CodePollExhausted || GetCode(plain) != CodeInternal || GetCode(nil) != CodeInternal {
		t.Error("GetCode should report the outermost code or internal")
	}
	if IsCode(exhausted, CodeTransport) {
		t.Error("IsCode must only look at the outermost layer")
	}
	if !HasCode(exhausted, CodeTransport) || HasCode(exhausted, CodeRenderFailed) {
		t.Error("HasCode should search the whole chain")
	}
	if !IsNotFound(NotFound("a", "b")) || IsNotFound(plain) {
		t.Error("IsNotFound mismatch")
	}
	if !IsValidation(ValidationField("f", "m")) || IsValidation(transport) {
		t.Error("IsValidation mismatch")
	}
	if GetFields(plain) != nil || GetFields(transport) != nil {
		t.Error("errors without fields should return nil")
	}
}

func TestIsTransient(t *testing.T) {
	transient := []Code{CodeTransport, CodePollTransient, CodeTimeout, CodeUnavailable, CodeResourceExhaust}
	fatal := []Code{CodePollFatal, CodeMalformedResponse, CodeRenderFailed, CodeSubmission, CodeValidation, CodeNotFound, CodeInternal}

	for _, c := range transient {
		if !IsTransient(New(c, "x")) {
			t.Errorf("%s should be transient", c)
		}
	}
	for _, c := range fatal {
		if IsTransient(New(c, "x")) {
			t.Errorf("%s should not be transient", c)
		}
	}
	if IsTransient(stderrors.New("plain")) {
		t.Error("uncoded errors are not transient")
	}
}

func TestDetail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", stderrors.New("dial tcp: refused"), "dial tcp: refused"},
		{"coded", New(CodeRenderFailed, "chromium crashed"), "chromium crashed"},
		{
			"nested takes innermost cause",
			WrapWithCode(Wrap(stderrors.New("EOF"), "render.decode", "read body"), CodeMalformedResponse, "render.poll", "bad progress payload"),
			"bad progress payload: EOF",
		},
		{
			"innermost coded message",
			Wrap(New(CodeRenderFailed, "out of memory"), "render.poll", "job failed"),
			"job failed: out of memory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detail(tt.err); got != tt.want {
				t.Errorf("Detail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsAndAs(t *testing.T) {
	sentinel := New(CodeCancelled, "render cancelled")
	err := fmt.Errorf("tui: %w", New(CodeCancelled, "user quit"))

	if !Is(err, sentinel) {
		t.Error("errors with the same code should match")
	}
	if Is(New(CodeInternal, "x"), sentinel) {
		t.Error("different codes must not match")
	}

	var coded *Error
	if !As(err, &coded) || coded.Message != "user quit" {
		t.Errorf("As: %+v", coded)
	}
}
