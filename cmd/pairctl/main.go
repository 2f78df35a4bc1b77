package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/app"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/config"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func loadEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
}

func main() {
	loadEnv()

	action := flag.String("action", constants.ActionCreate, "create | delete")
	pair := flag.String("pair", "", "pool address")
	meme := flag.String("meme", "", "meme token address (create)")
	base := flag.String("base", "", "base token address (create)")
	memeDec := flag.Int("meme-decimals", -1, "meme token decimals, omitted when negative")
	baseDec := flag.Int("base-decimals", -1, "base token decimals, omitted when negative")
	flag.Parse()

	msg, err := buildMessage(*action, *pair, *meme, *base, *memeDec, *baseDec)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := app.OpenBus(ctx, cfg, logger)
	if err != nil {
		fmt.Println("failed to connect message bus:", err)
		os.Exit(1)
	}
	defer b.Close()

	if err := b.Publish(ctx, cfg.Channels.TokenActions, msg); err != nil {
		fmt.Println("publish failed:", err)
		os.Exit(1)
	}
	fmt.Printf("sent %s for %s on %s\n", msg.Action, msg.Pair, cfg.Channels.TokenActions)
}

func buildMessage(action, pair, meme, base string, memeDec, baseDec int) (models.ControlMessage, error) {
	msg := models.ControlMessage{Action: action, Pair: pair}
	if pair == "" {
		return msg, errors.New("missing -pair")
	}

	switch action {
	case constants.ActionDelete:
		return msg, nil
	case constants.ActionCreate:
	default:
		return msg, fmt.Errorf("unknown -action %q (create | delete)", action)
	}

	if meme == "" || base == "" {
		return msg, errors.New("create needs -meme and -base")
	}
	msg.MemeTokenAddress = meme
	msg.BaseTokenAddress = base

	var err error
	if msg.MemeTokenDecimals, err = decimalsFlag("meme-decimals", memeDec); err != nil {
		return msg, err
	}
	if msg.BaseTokenDecimals, err = decimalsFlag("base-decimals", baseDec); err != nil {
		return msg, err
	}
	return msg, nil
}

func decimalsFlag(name string, v int) (*models.Decimals, error) {
	if v < 0 {
		return nil, nil
	}
	if v > 255 {
		return nil, fmt.Errorf("-%s must be at most 255", name)
	}
	d := models.Decimals(v)
	return &d, nil
}
