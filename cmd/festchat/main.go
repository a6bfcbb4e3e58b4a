package main

import (
	"context"
	"log"
	"os"

	"festchat/pkg/api"
	"festchat/pkg/app"
	"festchat/pkg/config"
	"festchat/pkg/diag"
	"festchat/pkg/realtime"
	"festchat/pkg/rest"
	"festchat/pkg/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Unable to load configuration: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()

	auth := rest.NewAuthClient(cfg.APIBaseURL, cfg.RequestTimeout)
	sess := session.NewStore(auth)

	user, err := authenticate(ctx, sess, cfg)
	if err != nil {
		log.Printf("Unable to authenticate: %v", err)
		os.Exit(1)
	}
	log.Printf("Authenticated as %s", user.Email)

	client := rest.NewClient(cfg.APIBaseURL, sess, cfg.RequestTimeout)
	directory := api.NewDirectory(client, cfg.PolicyMode(), user)
	store := api.NewStore(client, directory)

	channel := realtime.NewChannel(cfg.RealtimeURL)
	view := app.NewView(directory, store, channel, sess)
	view.Attach(channel)

	if err := channel.Connect(); err != nil {
		// Connectivity is a status flag, not a startup failure; the
		// channel keeps retrying in the background.
		log.Printf("Realtime channel not connected yet: %v", err)
	}
	defer channel.Close()

	conversations, err := directory.Load(ctx)
	if err != nil {
		log.Printf("Unable to load conversations: %v", err)
		os.Exit(1)
	}
	log.Printf("Loaded %d conversations under %s policy", len(conversations), cfg.PolicyMode())
	for _, c := range conversations {
		log.Printf("  %s (%s) last activity %s", c.Name, c.Kind, c.LastActivity.Format("2006-01-02 15:04"))
	}

	diagnostics := &diag.Diagnostics{
		Session:   sess,
		Verifier:  auth,
		Directory: directory,
		Store:     store,
		Conn:      channel,
	}
	addr := cfg.DiagAddr
	if addr == "" {
		addr = "localhost:8089"
	}
	server := diag.NewServer(addr, diagnostics)
	log.Printf("Diagnostics listening on %s", addr)
	if err := server.Run(); err != nil {
		log.Println(err)
	}
}

func authenticate(ctx context.Context, sess *session.Store, cfg config.Config) (api.User, error) {
	if cfg.AccessToken != "" {
		sess.Restore(api.User{Email: cfg.LoginEmail}, cfg.AccessToken, cfg.RefreshToken)
		if err := sess.EnsureFresh(ctx); err != nil {
			return api.User{}, err
		}
		user, _ := sess.User()
		return user, nil
	}
	return sess.Login(ctx, cfg.LoginEmail, cfg.LoginPassword)
}
