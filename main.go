package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/IceFireDB/IceFireDB-DHTGateway/internal/gateway"
	"github.com/IceFireDB/IceFireDB-DHTGateway/pkg/config"
	"github.com/IceFireDB/IceFireDB-DHTGateway/pkg/p2p"
	"github.com/IceFireDB/IceFireDB-DHTGateway/pkg/repo"
	"github.com/IceFireDB/IceFireDB-DHTGateway/utils"
)

func main() {
	app := cli.NewApp()

	app.Name = "IceFireDB-DHTGateway"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:     "config, c",
			Usage:    "config file path",
			Value:    "config/config.yaml",
			Required: false,
		},
		cli.StringFlag{
			Name:  "log,l",
			Usage: "log level: debug,info,warning,error",
			Value: "info",
		},
	}

	app.Before = func(c *cli.Context) error {
		log.SetFlags(log.Llongfile)
		// init log
		lv, err := logrus.ParseLevel(c.String("log"))
		if err != nil {
			return err
		}
		logrus.SetLevel(lv)
		// init config
		confPath := c.String("config")
		config.InitConfig(confPath)
		return nil
	}
	app.Action = func(c *cli.Context) error {
		ctx, cancel := context.WithCancel(context.TODO())
		go exitSignal(cancel)

		cfg := config.Get()
		if cfg.Debug.Enable {
			utils.GoWithRecover(func() {
				addr := fmt.Sprintf(":%d", cfg.Debug.Port)
				logrus.Infof("pprof listening on %s", addr)
				_ = http.ListenAndServe(addr, nil)
			}, nil)
		}

		rep, err := repo.Open(cfg.Repo.Driver, cfg.Repo.Path)
		if err != nil {
			return fmt.Errorf("open config repo: %v", err)
		}
		defer rep.Close()

		node, err := p2p.NewP2P(ctx, cfg.P2P)
		if err != nil {
			return fmt.Errorf("start p2p node: %v", err)
		}
		defer node.Close()

		g := gateway.New(p2p.NewEngine(node), rep, cfg.Gateway.OpTimeout)
		return gateway.Run(ctx, cfg.Server.Addr, g)
	}
	if err := app.Run(os.Args); err != nil {
		panic(fmt.Sprintf("app run error: %v", err))
	}
}

func exitSignal(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for sig := range sigs {
		switch sig {
		case syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT:
			cancel()
			fmt.Println("Bye!")
			os.Exit(0)
		case syscall.SIGHUP:
		default:
			fmt.Println(sig)
		}
	}
}
