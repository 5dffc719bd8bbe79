package cmd

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zaptest"
)

func TestStoreAndGetAppContext(t *testing.T) {
	original := globalAppContext
	defer func() {
		globalAppContext = original
	}()

	cmd := &cobra.Command{Use: "root"}
	cmd.SetContext(context.Background())
	appCtx := &AppContext{Logger: zaptest.NewLogger(t)}

	storeAppContext(cmd, appCtx)

	got := getAppContext(cmd)
	if got != appCtx {
		t.Fatalf("expected stored app context to be returned")
	}

	other := &cobra.Command{Use: "other"}
	if getAppContext(other) != appCtx {
		t.Fatalf("expected fallback to the global app context")
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Fatal("expected debug level to be enabled")
	}

	if _, err := newLogger("loud", false); err == nil {
		t.Fatal("expected invalid level to fail")
	}
}

func TestAppContextCloseWithoutServices(t *testing.T) {
	appCtx := &AppContext{Logger: zaptest.NewLogger(t)}
	if err := appCtx.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
