// Package rig opens the CAN node described by a configuration.
package rig

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nasa-jpl/kozdaq/can"
	"github.com/nasa-jpl/kozdaq/config"
	"github.com/nasa-jpl/kozdaq/koz"
	"github.com/nasa-jpl/kozdaq/koz/kozsim"
)

// OpenNode opens the bus for cfg.  With the sim transport a simulator is
// started on a loopback bus and runs until the node is closed.
func OpenNode(cfg config.Node, log *zap.Logger) (*koz.Node, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var (
		bus can.Bus
		err error
	)
	switch cfg.Transport {
	case config.TransportSocketCAN, "":
		bus, err = can.OpenSocketCAN(cfg.Interface)
	case config.TransportSLCAN:
		bus, err = can.OpenSLCAN(cfg.Interface, cfg.Baud, cfg.Bitrate)
	case config.TransportSim:
		var sim *kozsim.Simulator
		bus, sim = kozsim.Pair(log)
		go func() {
			if err := sim.Run(context.Background()); err != nil {
				log.Error("[kozsim] stopped", zap.Error(err))
			}
		}()
	default:
		err = fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, &koz.ConnectionError{Interface: cfg.Interface, Err: err}
	}
	log.Info("[koz] node created", zap.String("transport", cfg.Transport), zap.String("interface", cfg.Interface))
	return koz.NewNode(bus, cfg.Interface, log), nil
}
