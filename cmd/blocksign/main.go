package main

import (
	"blocksign/internal/app"
	"blocksign/internal/blockchain"
	"blocksign/internal/config"
	"blocksign/internal/notification"
	"blocksign/internal/ports/http"
	"blocksign/internal/ports/http/middleware/auth"
	"blocksign/internal/repository/mongodb"
	"blocksign/internal/storage"
	"context"
	"log"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	logger, err := getLogger()
	if err != nil {
		log.Fatalln("setting up the logger failed: ", err)
		return
	}
	defer logger.Sync()

	logger.Info("application started")

	startCtx, cancel := context.WithTimeout(context.Background(), config.GetRequestTimeout())
	defer cancel()

	db, err := mongodb.NewConnection(logger, config.GetDbConnectionURI(), config.GetDatabaseName())
	if err != nil {
		logger.Fatal("failed to connect to the database: " + err.Error())
	}
	defer db.Disconnect()

	if err := db.EnsureIndexes(startCtx); err != nil {
		logger.Fatal("failed to ensure the database indexes: " + err.Error())
	}

	var anchorer app.Anchorer
	if rpcURL := config.GetBlockchainRPCURL(); rpcURL == "" {
		logger.Warn("blockchain RPC URL not set, anchoring disabled")
	} else {
		a, err := blockchain.NewAnchorer(startCtx, logger, blockchain.Config{
			RPCURL:                  rpcURL,
			PrivateKeyHex:           config.GetWalletPrivateKey(),
			Network:                 config.GetNetworkName(),
			ExplorerBase:            config.GetExplorerBase(),
			GasLimit:                config.GetAnchorGasLimit(),
			PriorityFeeBoostPercent: config.GetPriorityFeeBoostPercent(),
			ConfirmTimeout:          config.GetAnchorTimeout(),
		})
		if err != nil {
			logger.Fatal("failed to set up the anchorer: " + err.Error())
		}
		anchorer = a
		logger.Info("anchoring enabled",
			zap.String("network", a.Network()),
			zap.String("wallet", a.Address()))
	}

	var store app.ObjectStore
	if endpoint := config.GetS3Endpoint(); endpoint == "" {
		logger.Warn("object storage endpoint not set, file storage disabled")
	} else {
		s, err := storage.NewObjectStore(startCtx, logger, storage.Config{
			Endpoint:  endpoint,
			AccessKey: config.GetS3AccessKey(),
			SecretKey: config.GetS3SecretKey(),
			Bucket:    config.GetS3Bucket(),
			UseSSL:    config.GetS3UseSSL(),
		})
		if err != nil {
			logger.Fatal("failed to set up the object storage: " + err.Error())
		}
		store = s
	}

	mailer := notification.NewMailer(logger, notification.MailerConfig{
		Host: config.GetSMTPHost(),
		Port: config.GetSMTPPort(),
		User: config.GetSMTPUser(),
		Pass: config.GetSMTPPass(),
		From: config.GetMailFrom(),
	})

	a := app.NewApp(logger, db, db, anchorer, store, mailer, app.Options{
		AnchorTimeout: config.GetAnchorTimeout(),
		LinkTTL:       config.GetPresignedLinkTTL(),
	})

	validator := auth.NewTokenValidator(logger, auth.JwtTokenParams{
		Issuer:   config.GetJWTIssuer(),
		Audience: config.GetJWTAudience(),
	})

	ser := http.NewServer(logger, a, config.GetPort(), validator.Authorize)
	if err := ser.Run(); err != nil {
		logger.Error("failed to run the server: " + err.Error())
	}

	logger.Info("application finished")
}

func getLogger() (*zap.Logger, error) {
	options := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.FatalLevel),
	}

	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	config.Development = true
	config.Level.SetLevel(zap.DebugLevel)

	logger, err := config.Build()
	return logger.WithOptions(options...), err
}
