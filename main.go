package main

import (
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/swapsuite/swap-dealer-server/blockclient"
	"github.com/swapsuite/swap-dealer-server/dal"
	"github.com/swapsuite/swap-dealer-server/pricing"
	"github.com/swapsuite/swap-dealer-server/swapmgr"
	"github.com/swapsuite/swap-dealer-server/utxomgr"
	"github.com/swapsuite/swap-dealer-server/venueclient"
	"github.com/swapsuite/swap-dealer-server/walletclient"
)

var (
	cfg *config
)

func readCAFile(filepath string) []byte {
	// Read certificate file if TLS is not disabled.
	certs, err := ioutil.ReadFile(filepath)
	if err != nil {
		dealerLog.Warnf("Cannot open CA file: %v", err)
		// If there's an error reading the CA file, continue
		// with nil certs and without the client connection.
		certs = nil
	}

	return certs
}

func startProfileServer() {
	listenAddr := net.JoinHostPort("localhost", cfg.ProfilePort)
	dealerLog.Infof("Profile server listening on %s", listenAddr)
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	dealerLog.Errorf("%v", http.ListenAndServe(listenAddr, mux))
}

// buildPriceSource assembles the configured price source: either the static
// table or the HTTP feed wrapped in a short-lived cache.
func buildPriceSource() (pricing.Source, error) {
	if len(cfg.fixedPrices) > 0 {
		dealerLog.Infof("Using fixed prices for %d assets", len(cfg.fixedPrices))
		return pricing.NewFixedSource(cfg.fixedPrices), nil
	}

	dealerLog.Infof("Using price feed %v", cfg.PriceURL)
	feed := pricing.NewHTTPSource(cfg.PriceURL, cfg.venueTimeout())
	return pricing.NewCachedSource(feed, defaultPriceCacheSize,
		time.Duration(cfg.PriceTTL)*time.Second)
}

func dealerMain() error {
	// Load configuration and parse command line. This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg

	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	defer dealerLog.Info("Shutdown complete")

	// Enable http profiling server if requested.
	if cfg.ProfilePort != "" {
		go func() {
			startProfileServer()
		}()
	}

	// Initiate database and trade history when enabled.
	var trades swapmgr.TradeRecorder
	if cfg.UseDB {
		err = dal.InitDB(&dal.DBConfig{
			Username:     cfg.DbUsername,
			Password:     cfg.DbPassword,
			Address:      cfg.DbAddress,
			DatabaseName: cfg.DbName,
		}, !cfg.DisableAutoCreateDB)
		if err != nil {
			return err
		}
		trades = swapmgr.NewDBTradeRecorder()
	}

	source, err := buildPriceSource()
	if err != nil {
		return err
	}
	quoter, err := pricing.NewQuoter(source, cfg.ProfitRatio)
	if err != nil {
		return err
	}

	var walletCerts []byte
	if !cfg.DisableWalletClientTLS {
		walletCerts = readCAFile(cfg.WalletCAFile)
	}
	dealerLog.Infof("Attempting RPC client connection to wallet (%v)", cfg.WalletRPCConnect)
	wallet, err := walletclient.New(&walletclient.Config{
		Host:         cfg.WalletRPCConnect,
		User:         cfg.WalletRPCUser,
		Pass:         cfg.WalletRPCPass,
		DisableTLS:   cfg.DisableWalletClientTLS,
		Certificates: walletCerts,
	})
	if err != nil {
		return err
	}

	var venueCerts []byte
	if !cfg.DisableVenueTLS {
		venueCerts = readCAFile(cfg.VenueCAFile.Value)
	}
	venue, err := venueclient.New(&venueclient.ConnConfig{
		Host:           cfg.VenueConnect,
		Endpoint:       cfg.VenueEndpoint,
		UseTLS:         !cfg.DisableVenueTLS,
		Certificates:   venueCerts,
		Proxy:          cfg.Proxy,
		ProxyUser:      cfg.ProxyUser,
		ProxyPass:      cfg.ProxyPass,
		RequestTimeout: cfg.venueTimeout(),
	})
	if err != nil {
		return err
	}

	blocks := blockclient.New(cfg.ZMQBlockConnect)

	swaps, err := swapmgr.New(&swapmgr.Config{
		APIKey:       cfg.APIKey,
		MaxTradeSize: cfg.maxTradeSats(),
		Venue:        venue,
		Wallet:       wallet,
		Quoter:       quoter,
		UTXOs:        utxomgr.New(int64(cfg.MinConf)),
		Trades:       trades,
	})
	if err != nil {
		return err
	}

	svr := newServer(venue, blocks, swaps)

	// The dispatcher must be consuming before the clients produce their
	// first events.
	svr.Start()

	if err := blocks.Start(); err != nil {
		svr.Stop()
		return err
	}
	dealerLog.Infof("Watching for blocks on %v", cfg.ZMQBlockConnect)

	dealerLog.Infof("Attempting venue connection (%v)", cfg.VenueConnect)
	if err := venue.Start(); err != nil {
		blocks.Stop()
		svr.Stop()
		return err
	}

	addInterruptHandler(func() {
		venue.Stop()
		venue.WaitForShutdown()
	})
	addInterruptHandler(func() {
		blocks.Stop()
		blocks.WaitForShutdown()
	})
	addInterruptHandler(func() {
		svr.Stop()
		svr.WaitForShutdown()
	})

	// Run until an interrupt is requested or the engine hits an
	// unrecoverable error.
	select {
	case err := <-svr.FatalError():
		venue.Stop()
		blocks.Stop()
		svr.Stop()
		venue.WaitForShutdown()
		blocks.WaitForShutdown()
		svr.WaitForShutdown()
		return err
	case <-interruptHandlersDone:
	}
	return nil
}

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := dealerMain(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
