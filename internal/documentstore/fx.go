package documentstore

import (
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/spf13/afero"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("documentstore",
	fx.Provide(NewFromConfig),
)

// NewFromConfig selects a backend by STORAGE_DRIVER. Missing R2 settings yield
// a store whose calls fail with a ConfigError instead of failing startup.
func NewFromConfig(cfg config.Config, log *zap.Logger) (Store, error) {
	log = log.Named("documentstore")
	sc := cfg.Storage

	switch sc.Driver {
	case "local":
		store, err := NewDiskStore(sc.LocalRoot)
		if err != nil {
			return nil, err
		}
		log.Info("documentstore.local", zap.String("root", sc.LocalRoot))
		return store, nil
	case "memory":
		log.Info("documentstore.memory")
		return NewLocalStore(afero.NewMemMapFs()), nil
	}

	if sc.R2AccountID == "" || sc.R2AccessKeyID == "" || sc.R2SecretAccessKey == "" {
		log.Warn("documentstore.r2.unconfigured")
		return NewUnconfigured("R2 is not configured. Set R2_ACCOUNT_ID, R2_ACCESS_KEY_ID, and R2_SECRET_ACCESS_KEY in your environment."), nil
	}
	if sc.R2BucketName == "" {
		log.Warn("documentstore.r2.missing_bucket")
		return NewUnconfigured("R2_BUCKET_NAME is not set in your environment."), nil
	}

	log.Info("documentstore.r2", zap.String("bucket", sc.R2BucketName))
	return NewR2Store(R2Config{
		AccountID:       sc.R2AccountID,
		AccessKeyID:     sc.R2AccessKeyID,
		SecretAccessKey: sc.R2SecretAccessKey,
		Bucket:          sc.R2BucketName,
		Endpoint:        sc.R2Endpoint,
	}), nil
}
