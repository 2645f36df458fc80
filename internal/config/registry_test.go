package config_test

import (
	"errors"
	"testing"

	"github.com/valet-labs/valet/internal/config"
	"github.com/valet-labs/valet/pkg/completion"
	completionmock "github.com/valet-labs/valet/pkg/completion/mock"
)

func TestRegistry_CreateCompletion(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	var gotEntry config.ProviderEntry
	r.RegisterCompletion("mock", func(entry config.ProviderEntry) (completion.Service, error) {
		gotEntry = entry
		return &completionmock.Service{}, nil
	})

	svc, err := r.CreateCompletion(config.ProviderEntry{Name: "mock", Model: "test-model"})
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if svc == nil {
		t.Fatal("CreateCompletion returned nil service")
	}
	if gotEntry.Model != "test-model" {
		t.Errorf("factory received model %q, want test-model", gotEntry.Model)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	_, err := r.CreateCompletion(config.ProviderEntry{Name: "ghost"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	first := &completionmock.Service{}
	second := &completionmock.Service{}
	r.RegisterCompletion("mock", func(config.ProviderEntry) (completion.Service, error) { return first, nil })
	r.RegisterCompletion("mock", func(config.ProviderEntry) (completion.Service, error) { return second, nil })

	svc, err := r.CreateCompletion(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if svc != second {
		t.Error("later registration should win")
	}
}
