package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/listener"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/sirupsen/logrus"
)

var errNotRunning = errors.New("listener is not running")

// HandleControl applies one token-actions message. Undecodable payloads and
// unknown actions are logged and dropped. Failed commands are reported on
// the errors channel.
func (a *App) HandleControl(ctx context.Context, payload []byte) {
	var msg models.ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		a.logger.WithError(err).WithField("payload", string(payload)).Warn("Invalid control message")
		return
	}
	log := a.logger.WithFields(logrus.Fields{
		"action": msg.Action,
		"pair":   msg.Pair,
	})

	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	switch strings.ToLower(strings.TrimSpace(msg.Action)) {
	case constants.ActionCreate:
		p, err := a.create(ctx, msg)
		if err != nil {
			log.WithError(err).Warn("Create failed")
			a.reportError(err, msg.Pair, "create")
			return
		}
		a.publishInfo("added pair "+p.Pair, p)

	case constants.ActionDelete:
		if err := a.remove(ctx, msg.Pair); err != nil {
			log.WithError(err).Warn("Delete failed")
			a.reportError(err, msg.Pair, "delete")
			return
		}
		a.publishInfo("removed pair " + msg.Pair)

	default:
		log.Warn("Unknown control action")
	}
}

func (a *App) create(ctx context.Context, msg models.ControlMessage) (models.TrackedPair, error) {
	var missing []string
	if msg.Pair == "" {
		missing = append(missing, "pair")
	}
	if msg.MemeTokenAddress == "" {
		missing = append(missing, "memeTokenAddress")
	}
	if msg.BaseTokenAddress == "" {
		missing = append(missing, "baseTokenAddress")
	}
	if len(missing) > 0 {
		return models.TrackedPair{}, fmt.Errorf("%w: missing %s", listener.ErrInvalidPair, strings.Join(missing, ", "))
	}

	m := a.current()
	if m == nil {
		return models.TrackedPair{}, errNotRunning
	}
	p := msg.TrackedPair(constants.DefaultDecimals)
	if err := m.Add(ctx, p); err != nil {
		return models.TrackedPair{}, err
	}
	return p, nil
}

func (a *App) remove(ctx context.Context, pair string) error {
	if pair == "" {
		return fmt.Errorf("%w: missing pair", listener.ErrInvalidPair)
	}
	m := a.current()
	if m == nil {
		return errNotRunning
	}
	return m.Remove(ctx, pair)
}
