package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateSubmission(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProvider() error {
	switch c.Provider.Kind {
	case ProviderOpenAI:
		if c.Provider.APIKey == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("provider.api_key is required for the openai provider. Set OPENAI_API_KEY env var or edit %s (create with 'atelier config init')", defaultPath)
		}
	case ProviderHTTP:
		if c.Provider.BaseURL == "" {
			return errors.New("provider.base_url must be set when provider.kind is http")
		}
		if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
			return fmt.Errorf("provider.base_url %q must start with http:// or https://", c.Provider.BaseURL)
		}
	default:
		return fmt.Errorf("provider.kind %q is not supported (use %q or %q)", c.Provider.Kind, ProviderOpenAI, ProviderHTTP)
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return errors.New("provider.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if strings.TrimSpace(c.Paths.ImageDir) == "" {
			return errors.New("paths.image_dir must be set when storage.backend is local")
		}
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("storage.s3_bucket must be set when storage.backend is s3")
		}
		if c.Storage.S3AccessKeyID == "" || c.Storage.S3SecretAccessKey == "" {
			return errors.New("storage.s3_access_key_id and storage.s3_secret_access_key must be set when storage.backend is s3 (or set AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY)")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported (use %q or %q)", c.Storage.Backend, StorageLocal, StorageS3)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.max_attempts":         c.Workflow.MaxAttempts,
		"workflow.lineage_max_depth":    c.Workflow.LineageMaxDepth,
	}); err != nil {
		return err
	}
	if c.Workflow.ProcessingTimeout < 0 {
		return errors.New("workflow.processing_timeout must be >= 0 (0 disables runtime reclaim)")
	}
	if c.Workflow.ProcessingTimeout > 0 && c.Workflow.ProcessingTimeout <= c.Provider.TimeoutSeconds {
		return errors.New("workflow.processing_timeout must be greater than provider.timeout_seconds")
	}
	switch c.Workflow.StaleAction {
	case StaleActionRequeue, StaleActionFail:
	default:
		return fmt.Errorf("workflow.stale_action %q is not supported (use %q or %q)", c.Workflow.StaleAction, StaleActionRequeue, StaleActionFail)
	}
	return nil
}

func (c *Config) validateSubmission() error {
	if c.Submission.MaxBatch < 1 || c.Submission.MaxBatch > 4 {
		return errors.New("submission.max_batch must be between 1 and 4")
	}
	if c.Submission.HistoryPageSize < 1 || c.Submission.HistoryPageSize > 100 {
		return errors.New("submission.history_page_size must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic %q must be a full http:// or https:// URL", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
