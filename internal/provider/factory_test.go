package provider

import (
	"log/slog"
	"strings"
	"testing"

	"conduit/internal/config"
	"conduit/internal/domain"
)

func TestFactory_BuildsByKind(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["local"] = config.ProviderConfig{Kind: "openai", APIBase: "http://localhost:11434/v1", DefaultModel: "llama3.1"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Get("local")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*OpenAI); !ok {
		t.Fatalf("expected *OpenAI, got %T", p)
	}
	if p.Name() != "local" || p.DefaultModel() != "llama3.1" {
		t.Fatalf("unexpected provider %s/%s", p.Name(), p.DefaultModel())
	}

	a, err := f.Get("anthropic")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.(*Anthropic); !ok {
		t.Fatalf("expected *Anthropic, got %T", a)
	}
}

func TestFactory_CachesInstances(t *testing.T) {
	f := NewFactory(config.Defaults(), testLogger())
	p1, err := f.Get("openai")
	if err != nil {
		t.Fatal(err)
	}
	p2, _ := f.Get("")
	if p1 != p2 {
		t.Fatal("expected cached instance for the default provider")
	}
}

func TestFactory_UnknownProvider(t *testing.T) {
	f := NewFactory(config.Defaults(), testLogger())
	if _, err := f.Get("nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestFactory_UnsupportedKind(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["odd"] = config.ProviderConfig{Kind: "carrier-pigeon"}
	if _, err := NewFactory(cfg, testLogger()).Get("odd"); err == nil || !strings.Contains(err.Error(), "unsupported kind") {
		t.Fatalf("expected unsupported kind error, got %v", err)
	}
}

func TestFactory_CustomConstructor(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["fake"] = config.ProviderConfig{Kind: "fake", DefaultModel: "m"}
	f := NewFactory(cfg, testLogger())
	f.RegisterConstructor("fake", func(name string, pc config.ProviderConfig, _ *slog.Logger) domain.Provider {
		return &mockProvider{name: name, model: pc.DefaultModel}
	})
	p, err := f.Get("fake")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "fake" {
		t.Fatalf("name = %q", p.Name())
	}
}

func TestFactory_PrimaryWithFailoverChain(t *testing.T) {
	cfg := config.Defaults()
	cfg.Agent.Provider = "anthropic"
	cfg.Agent.FailoverChain = []string{"anthropic", "openai"}
	p, err := NewFactory(cfg, testLogger()).Primary()
	if err != nil {
		t.Fatal(err)
	}
	fp, ok := p.(*FailoverProvider)
	if !ok {
		t.Fatalf("expected failover provider, got %T", p)
	}
	if fp.Name() != "failover(anthropic→openai)" {
		t.Fatalf("name = %q", fp.Name())
	}
}

func TestFactory_PrimaryWithoutChain(t *testing.T) {
	p, err := NewFactory(config.Defaults(), testLogger()).Primary()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*OpenAI); !ok {
		t.Fatalf("expected plain provider, got %T", p)
	}
}
