package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"gitee.com/czyczk/pdproxy/internal/appinit"
	"gitee.com/czyczk/pdproxy/internal/controller"
	"gitee.com/czyczk/pdproxy/internal/global"
	"gitee.com/czyczk/pdproxy/internal/kms"
	"gitee.com/czyczk/pdproxy/internal/models/common"
	"gitee.com/czyczk/pdproxy/internal/service"
	"gitee.com/czyczk/pdproxy/internal/utils/idutils"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	var configPath string

	confFlag := &cli.StringFlag{
		Name:        "conf",
		Aliases:     []string{"c"},
		Value:       "server.yaml",
		EnvVars:     []string{"PDP_CONF"},
		Destination: &configPath,
	}
	ownerFlag := &cli.StringFlag{
		Name:  "owner",
		Usage: "The owner DID. Defaults to the owner in the config file.",
	}

	app := &cli.App{
		Name:  "pdproxy",
		Usage: "Personal data proxy API key service",
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"s"},
				Usage:   "Start as server",
				Flags:   []cli.Flag{confFlag},
				Action:  getServeFunc(&configPath),
			},
			{
				Name:  "issue",
				Usage: "Issue an API key and print its token",
				Flags: []cli.Flag{
					confFlag,
					ownerFlag,
					&cli.StringFlag{Name: "requester", Aliases: []string{"r"}, Usage: "The requester DID", Required: true},
					&cli.StringFlag{Name: "client", Usage: "The name of the client application", Required: true},
					&cli.StringFlag{Name: "purpose", Usage: "Why the key is issued"},
					&cli.StringSliceFlag{
						Name:    "scope",
						Aliases: []string{"s"},
						Usage:   "A granted scope: 'endpoint=/api/v1/inbox/', 'schema:read=<uri>' or 'schema:write=<uri>'",
					},
				},
				Action: getIssueFunc(&configPath),
			},
			{
				Name:      "revoke",
				Usage:     "Revoke an API key",
				ArgsUsage: "<key ID>",
				Flags:     []cli.Flag{confFlag, ownerFlag},
				Action:    getRevokeFunc(&configPath),
			},
			{
				Name:   "list",
				Usage:  "List the IDs of the API keys of an owner",
				Flags:  []cli.Flag{confFlag, ownerFlag},
				Action: getListFunc(&configPath),
			},
		},
	}

	// Run the cli helper
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

// setup loads the config, configures logging and wires the KMS service.
func setup(configPath string) (*appinit.ServerInfo, *service.KMSService, func(), error) {
	serverInfo, err := appinit.LoadServerInfo(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := appinit.SetupLogger(serverInfo.LogLevel); err != nil {
		return nil, nil, nil, err
	}
	global.ShowTimingLogs = serverInfo.ShowTimingLogs
	idutils.NodeID = serverInfo.NodeID

	kmsSvc, release, err := appinit.NewKMSService(&serverInfo)
	if err != nil {
		return nil, nil, nil, err
	}

	return &serverInfo, kmsSvc, release, nil
}

func getServeFunc(configPath *string) func(c *cli.Context) error {
	serveFunc := func(c *cli.Context) error {
		serverInfo, kmsSvc, release, err := setup(*configPath)
		if err != nil {
			return err
		}
		defer release()

		if strings.TrimSpace(serverInfo.OwnerDID) == "" {
			log.Warnln("未指定所有者 DID，请求必须自行指定 ownerDid")
		}

		// Instantiate controllers
		pingPongController := &controller.PingPongController{}

		keyController := &controller.KeyController{
			GroupName: "/keys",
			KMSSvc:    kmsSvc,
		}

		// Register controller handlers
		if log.GetLevel() < log.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(gin.Recovery(), controller.RequestLoggerMiddleware(), controller.CORSMiddleware())
		apiv1Group := router.Group("/api/v1")
		for _, c := range []controller.Controller{pingPongController, keyController} {
			if err := controller.RegisterHandlers(apiv1Group, c); err != nil {
				return err
			}
		}

		// Start the HTTP server
		httpServer := &http.Server{
			Addr:    fmt.Sprintf(":%v", serverInfo.Port),
			Handler: router,
		}

		chanError := make(chan error, 1)
		go func() {
			log.Infof("HTTP 服务器正在监听端口 %v", serverInfo.Port)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				chanError <- errors.Wrap(err, "无法启动 HTTP 服务器")
			}
		}()

		// Listen Ctrl+C signals. On receiving a signal stops the app elegantly
		chanQuit := make(chan os.Signal, 1)
		signal.Notify(chanQuit, os.Interrupt)
		select {
		case err := <-chanError:
			return err
		case <-chanQuit:
			log.Infoln("收到 Ctrl+C 信号，正在退出程序...")

			// Stop the HTTP server elegantly
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			log.Infoln("正在停止 HTTP 服务器...")
			if err := httpServer.Shutdown(ctx); err != nil {
				return errors.Wrap(err, "无法正常停止 HTTP 服务器")
			}
		}

		return nil
	}

	return serveFunc
}

func getIssueFunc(configPath *string) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		scopes := make([]kms.Scope, 0, len(c.StringSlice("scope")))
		for _, flag := range c.StringSlice("scope") {
			scope, err := parseScopeFlag(flag)
			if err != nil {
				return err
			}
			scopes = append(scopes, scope)
		}

		_, kmsSvc, release, err := setup(*configPath)
		if err != nil {
			return err
		}
		defer release()

		session := common.ProxySession{
			ClientName: c.String("client"),
			Purpose:    c.String("purpose"),
		}
		issued, err := kmsSvc.IssueAPIKey(c.Context, session, c.String("requester"), c.String("owner"), scopes)
		if err != nil {
			return err
		}

		fmt.Printf("API 密钥 ID: %v\n", issued.KeyID)
		fmt.Printf("会话 ID: %v\n", issued.Session.SessionID)
		fmt.Println(issued.Token)
		return nil
	}
}

func getRevokeFunc(configPath *string) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("请指定要撤销的 API 密钥 ID")
		}

		_, kmsSvc, release, err := setup(*configPath)
		if err != nil {
			return err
		}
		defer release()

		if err := kmsSvc.RevokeAPIKey(c.Context, c.String("owner"), c.Args().First()); err != nil {
			return err
		}

		fmt.Printf("已撤销 API 密钥 %v\n", c.Args().First())
		return nil
	}
}

func getListFunc(configPath *string) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		_, kmsSvc, release, err := setup(*configPath)
		if err != nil {
			return err
		}
		defer release()

		ids, err := kmsSvc.ListAPIKeyIDs(c.Context, c.String("owner"))
		if err != nil {
			return err
		}

		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}
}

// parseScopeFlag parses a scope given on the command line as `endpoint=<path>` or `schema:<access>=<uri>`.
func parseScopeFlag(flag string) (kms.Scope, error) {
	kind, value, found := strings.Cut(flag, "=")
	if !found || strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("不正确的 scope '%v'", flag)
	}

	m := map[string]interface{}{}
	switch {
	case kind == string(kms.KindEndpoint):
		m["kind"] = string(kms.KindEndpoint)
		m["endpoint"] = value
	case strings.HasPrefix(kind, string(kms.KindSchema)+":"):
		m["kind"] = string(kms.KindSchema)
		m["access"] = strings.TrimPrefix(kind, string(kms.KindSchema)+":")
		m["schemaUri"] = value
	default:
		return nil, fmt.Errorf("不正确的 scope 类型 '%v'", kind)
	}

	scopes, err := kms.ScopesFromMaps([]map[string]interface{}{m})
	if err != nil {
		return nil, errors.Wrapf(err, "不正确的 scope '%v'", flag)
	}

	return scopes[0], nil
}
