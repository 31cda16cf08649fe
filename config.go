package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/swapsuite/swap-dealer-server/pricing"
	"github.com/swapsuite/swap-dealer-server/utils"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "swap-dealer-server.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "swap-dealer-server.log"
	defaultLogLevel       = "info"
	defaultDbType         = "mysql"
	defaultDbAddress      = "127.0.0.1:3306"
	defaultDatabaseName   = "swap_dealer"
	defaultVenuePort      = "6667"
	defaultVenueEndpoint  = "json-rpc-ws"
	defaultWalletRPCPort  = "7041"
	defaultZMQBlockHost   = "tcp://127.0.0.1:28332"
	defaultRequestTimeout = 5
	defaultProfitRatio    = 1.01
	defaultMinConf        = 1
	defaultPriceCacheSize = 64
	defaultPriceCacheTTL  = 5
)

var (
	defaultHomeDir     = utils.AppDataDir("swap-dealer-server", false)
	localConfigFile    = defaultConfigFilename
	knownDbTypes       = []string{"mysql"}
	localVenueCertFile = "venue.cert"
	defaultLogDir      = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for the dealer server.
//
// See loadConfig for details on the configuration load process.
type config struct {
	APIKey     string                `long:"apikey" default-mask:"-" description:"API key authenticating the dealer session with the swap venue"`
	AppDataDir *utils.ExplicitString `short:"A" long:"appdata" description:"Application data directory for dealer config and logs"`
	ConfigFile string                `short:"C" long:"configfile" description:"Path to configuration file"`
	DebugLevel string                `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	LogDir     string                `long:"logdir" description:"Directory to log output."`

	VenueConnect    string                `short:"c" long:"venueconnect" description:"Hostname/IP and port of the swap venue to connect to"`
	VenueEndpoint   string                `long:"venueendpoint" description:"Websocket path on the venue host (default: json-rpc-ws)"`
	VenueCAFile     *utils.ExplicitString `long:"venuecafile" description:"File containing root certificates to authenticate the TLS connection with the venue"`
	DisableVenueTLS bool                  `long:"novenuetls" description:"Disable TLS for the connection with the venue -- NOTE: This is only allowed if the venue is bound to localhost"`
	VenueTimeout    int                   `long:"venuetimeout" description:"Seconds to wait for a venue response before treating the request as lost (default: 5)"`
	Proxy           string                `long:"proxy" description:"Connect to the venue via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser       string                `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass       string                `long:"proxypass" default-mask:"-" description:"Password for proxy server"`

	WalletRPCConnect       string `long:"walletrpcconnect" description:"Hostname/IP and port of the wallet RPC server to connect to"`
	WalletRPCUser          string `long:"walletrpcuser" description:"Username for RPC connections with the wallet"`
	WalletRPCPass          string `long:"walletrpcpass" default-mask:"-" description:"Password for RPC connections with the wallet"`
	WalletCAFile           string `long:"walletcafile" description:"File containing root certificates to authenticate the TLS connection with the wallet"`
	DisableWalletClientTLS bool   `long:"nowalletclienttls" description:"Disable TLS for the connection with the wallet"`

	ZMQBlockConnect string `long:"zmqblockconnect" description:"ZeroMQ endpoint publishing block hashes (default: tcp://127.0.0.1:28332)"`

	MaxTradeSize float64  `long:"maxtradesize" description:"Largest bitcoin leg the dealer quotes, in whole bitcoin. Zero removes the cap"`
	ProfitRatio  float64  `long:"profitratio" description:"Margin factor applied to every quote (default: 1.01, minimum: 1.002)"`
	MinConf      int      `long:"minconf" description:"Confirmations an output needs before the dealer spends it (default: 1)"`
	PriceURL     string   `long:"priceurl" description:"HTTP price feed queried per asset, mutually exclusive with --fixedprice"`
	FixedPrice   []string `long:"fixedprice" description:"Static price as assetid=price, may be given multiple times, mutually exclusive with --priceurl"`
	PriceTTL     int      `long:"pricettl" description:"Seconds a fetched price stays fresh (default: 5)"`
	fixedPrices  map[string]float64

	UseDB               bool   `long:"usedb" description:"Record trade history in the database"`
	DisableAutoCreateDB bool   `long:"noautocreatedb" description:"Disable creating database and table automatically"`
	DbType              string `long:"dbtype" description:"Database backend to use for the data"`
	DbUsername          string `long:"dbusername" description:"username which is used to connect with database"`
	DbPassword          string `long:"dbpassword" default-mask:"-" description:"password which is used to connect with database"`
	DbAddress           string `long:"dbaddress" description:"ip address and port of database (default: 127.0.0.1:3306)"`
	DbName              string `long:"dbname" description:"name of server database (default: swap_dealer)"`

	ProfilePort string `long:"profileport" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	WorkingDir  string `long:"workingdir" description:"Working directory"`
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfg, options)
	return parser
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsystems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// filesExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// validDbType returns whether or not dbType is a supported database type.
func validDbType(dbType string) bool {
	for _, knownType := range knownDbTypes {
		if dbType == knownType {
			return true
		}
	}

	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// parseFixedPrices turns assetid=price pairs into the price table consumed
// by the fixed source.
func parseFixedPrices(pairs []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		fields := strings.SplitN(pair, "=", 2)
		if len(fields) != 2 || fields[0] == "" {
			return nil, fmt.Errorf("fixed price %q is not of the form assetid=price", pair)
		}
		price, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("fixed price %q carries an invalid price", pair)
		}
		prices[fields[0]] = price
	}
	return prices, nil
}

func loadConfig() (*config, []string, error) {
	cfg := config{
		ConfigFile:      localConfigFile,
		AppDataDir:      utils.NewExplicitString(defaultHomeDir),
		VenueCAFile:     utils.NewExplicitString(""),
		VenueEndpoint:   defaultVenueEndpoint,
		VenueTimeout:    defaultRequestTimeout,
		DebugLevel:      defaultLogLevel,
		LogDir:          defaultLogDir,
		DbType:          defaultDbType,
		DbAddress:       defaultDbAddress,
		DbName:          defaultDatabaseName,
		ZMQBlockConnect: defaultZMQBlockHost,
		ProfitRatio:     defaultProfitRatio,
		MinConf:         defaultMinConf,
		PriceTTL:        defaultPriceCacheTTL,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	if preCfg.WorkingDir != "" {
		err := os.Chdir(preCfg.WorkingDir)
		if err != nil {
			return nil, nil, err
		}
	}

	// Load additional config from file. A missing default config file is
	// fine; an explicitly named one that does not exist is not.
	var configFileError error
	parser := newConfigParser(&cfg, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		if preCfg.ConfigFile != localConfigFile {
			return nil, nil, fmt.Errorf("cannot find config file %v", preCfg.ConfigFile)
		}
	} else {
		fmt.Printf("Use config file: %v\n", preCfg.ConfigFile)
		err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			if _, ok := err.(*os.PathError); !ok {
				fmt.Fprintf(os.Stderr, "Error parsing config "+
					"file: %v\n", err)
				fmt.Fprintln(os.Stderr, usageMessage)
				return nil, nil, err
			}
			configFileError = err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	// Create the home directory if it doesn't already exist.
	funcName := "loadConfig"
	err = os.MkdirAll(defaultHomeDir, 0700)
	if err != nil {
		// Show a nicer error message if it's because a symlink is
		// linked to a directory that does not exist (probably because
		// it's not mounted).
		if e, ok := err.(*os.PathError); ok && os.IsExist(err) {
			if link, lerr := os.Readlink(e.Path); lerr == nil {
				str := "is symlink %s -> %s mounted?"
				err = fmt.Errorf(str, e.Path, link)
			}
		}

		str := "%s: Failed to create home directory: %v"
		err := fmt.Errorf(str, funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Expand the log directory
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation. After log rotation has been initialized, the
	// logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Show version at startup.
	dealerLog.Infof("Version %s", version())

	if cfg.APIKey == "" {
		return nil, nil, errors.New("apikey should be configured to authenticate with the venue")
	}

	if cfg.VenueConnect == "" {
		return nil, nil, errors.New("venueconnect should be configured to reach the swap venue")
	}
	cfg.VenueConnect = normalizeAddress(cfg.VenueConnect, defaultVenuePort)
	cfg.VenueEndpoint = strings.TrimPrefix(cfg.VenueEndpoint, "/")

	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = defaultRequestTimeout
	}

	// If VenueCAFile is unset, fall back to a cert copy next to the
	// binary when one exists.
	if !cfg.DisableVenueTLS && !cfg.VenueCAFile.ExplicitlySet() {
		cfg.VenueCAFile.Value = localVenueCertFile
	}

	// If no username or password is provided, we can not connect to the
	// wallet.
	if cfg.WalletRPCUser == "" || cfg.WalletRPCPass == "" {
		return nil, nil, errors.New("walletrpcuser and walletrpcpass should be configured to communicate with the wallet")
	}
	if cfg.WalletRPCConnect == "" {
		cfg.WalletRPCConnect = net.JoinHostPort("localhost", defaultWalletRPCPort)
	}
	cfg.WalletRPCConnect = normalizeAddress(cfg.WalletRPCConnect, defaultWalletRPCPort)

	if cfg.ZMQBlockConnect == "" {
		cfg.ZMQBlockConnect = defaultZMQBlockHost
	}

	if cfg.ProfitRatio < pricing.MinProfitRatio {
		str := "%s: profit ratio %v is below the minimum %v"
		return nil, nil, fmt.Errorf(str, funcName, cfg.ProfitRatio, pricing.MinProfitRatio)
	}

	if cfg.MaxTradeSize < 0 {
		return nil, nil, fmt.Errorf("%s: negative max trade size", funcName)
	}
	if cfg.MinConf <= 0 {
		cfg.MinConf = defaultMinConf
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = defaultPriceCacheTTL
	}

	// Exactly one price source must be configured.
	if cfg.PriceURL == "" && len(cfg.FixedPrice) == 0 {
		return nil, nil, errors.New("a price source should be configured, either --priceurl or --fixedprice")
	}
	if cfg.PriceURL != "" && len(cfg.FixedPrice) > 0 {
		return nil, nil, errors.New("priceurl and fixedprice are mutually exclusive")
	}
	if len(cfg.FixedPrice) > 0 {
		cfg.fixedPrices, err = parseFixedPrices(cfg.FixedPrice)
		if err != nil {
			return nil, nil, err
		}
	}

	if cfg.UseDB {
		// Validate database type.
		if !validDbType(cfg.DbType) {
			str := "%s: The specified database type [%v] is invalid -- " +
				"supported types %v"
			err := fmt.Errorf(str, funcName, cfg.DbType, knownDbTypes)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}

		if cfg.DbUsername == "" || cfg.DbPassword == "" {
			return nil, nil, errors.New("database username or password not configured, please add them in configuration file or " +
				"specify them using --dbusername and --dbpassword")
		}

		if cfg.DbAddress == "" {
			dealerLog.Infof("Use default database address: %v", defaultDbAddress)
			cfg.DbAddress = defaultDbAddress
		}

		if cfg.DbName == "" {
			return nil, nil, fmt.Errorf("nil dbname")
		}
	} else {
		dealerLog.Infof("Trade history persistence disabled")
	}

	// Validate profile port number
	if cfg.ProfilePort != "" {
		profilePort, err := strconv.Atoi(cfg.ProfilePort)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			str := "%s: The profile port must be between 1024 and 65535"
			err := fmt.Errorf(str, funcName)
			return nil, nil, err
		}
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		dealerLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}

// venueTimeout returns the configured request timeout as a duration.
func (c *config) venueTimeout() time.Duration {
	return time.Duration(c.VenueTimeout) * time.Second
}

// maxTradeSats returns the configured trade size cap in base units.
func (c *config) maxTradeSats() int64 {
	return utils.AmountFromBitcoin(c.MaxTradeSize)
}
