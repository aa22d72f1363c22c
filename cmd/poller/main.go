package main

import (
	"context"
	"flag"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/eeekcct/github-poller/internal/config"
	"github.com/eeekcct/github-poller/internal/controller"
	"github.com/eeekcct/github-poller/internal/github"
	"github.com/eeekcct/github-poller/internal/kubernetes"
	"github.com/eeekcct/github-poller/internal/tekton"
)

func main() {
	var dryRun bool
	pflag.BoolVar(&dryRun, "dry-run", false,
		"Resolve commits and render PipelineRuns with server-side dry run, without persisting commit state.")

	opts := zap.Options{
		Development: false,
		TimeEncoder: zapcore.ISO8601TimeEncoder,
	}
	opts.BindFlags(flag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	log := ctrl.Log.WithName("github-poller")

	ctx := logf.IntoContext(ctrl.SetupSignalHandler(), log)
	if err := run(ctx, dryRun); err != nil {
		log.Error(err, "Poll failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, dryRun bool) error {
	log := logf.FromContext(ctx)

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log.Info("Starting poll",
		"namespace", cfg.Namespace,
		"configMap", cfg.ConfigMapName,
		"authMode", cfg.GitHub.AuthMode,
		"dryRun", dryRun)

	k8s, err := kubernetes.NewClient(cfg.RequestTimeout)
	if err != nil {
		return err
	}

	provider := github.NewCredentialProvider(cfg.GitHub, cfg.RequestTimeout)
	if err := provider.Init(ctx); err != nil {
		return err
	}
	log.Info("GitHub credential ready", "mode", provider.Mode())

	commits, err := github.NewClient(provider.TokenSource(ctx), cfg.GitHub.APIURL, cfg.RequestTimeout)
	if err != nil {
		return err
	}

	trigger := tekton.NewTrigger(k8s, cfg.Namespace, cfg.PipelineRunAPIVersion, nil)
	trigger.DryRun = dryRun

	reconciler := &controller.PollReconciler{
		Store:       kubernetes.NewConfigMapStore(k8s, cfg.Namespace, cfg.ConfigMapName, cfg.ConfigMapKey),
		Commits:     commits,
		Trigger:     trigger,
		CallTimeout: cfg.RequestTimeout,
		DryRun:      dryRun,
	}
	_, err = reconciler.Poll(ctx)
	return err
}
