package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks cfg using struct tags plus the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	limit := cfg.Store.MaxAttachmentSize
	if limit > 0 && int64(cfg.Transfer.PartSize) > limit {
		return fmt.Errorf("transfer.part_size %d exceeds store.max_attachment_size %d", cfg.Transfer.PartSize, limit)
	}
	if (cfg.Store.S3AccessKeyID == "") != (cfg.Store.S3SecretAccessKey == "") {
		return fmt.Errorf("store: s3_access_key_id and s3_secret_access_key must be set together")
	}
	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
