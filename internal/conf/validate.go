// conf/validate.go validation of user provided settings
package conf

import (
	"errors"
	"fmt"
)

// ValidateSettings checks the loaded settings for values the detection core
// cannot operate with. It returns a joined error listing every problem found.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if settings.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.samplerate must be positive, got %d", settings.Audio.SampleRate))
	}
	if settings.Audio.MinLength <= 0 || settings.Audio.MaxLength < settings.Audio.MinLength {
		errs = append(errs, fmt.Errorf("audio window bounds invalid: min=%.1f max=%.1f",
			settings.Audio.MinLength, settings.Audio.MaxLength))
	}

	if err := validateUnitInterval("detection.minconfidence", settings.Detection.MinConfidence); err != nil {
		errs = append(errs, err)
	}
	if err := validateUnitInterval("detection.sametracksimilarity", settings.Detection.SameTrackSimilarity); err != nil {
		errs = append(errs, err)
	}
	if settings.Detection.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("detection.silenceduration must be positive, got %.2f", settings.Detection.SilenceDuration))
	}

	if settings.Providers.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("providers.maxretries must not be negative, got %d", settings.Providers.MaxRetries))
	}
	if settings.Providers.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("providers.requesttimeout must be positive, got %d", settings.Providers.RequestTimeout))
	}
	if err := validateUnitInterval("providers.acoustid.threshold", settings.Providers.AcoustID.Threshold); err != nil {
		errs = append(errs, err)
	}
	if err := validateUnitInterval("providers.audd.threshold", settings.Providers.AudD.Threshold); err != nil {
		errs = append(errs, err)
	}

	if settings.Stations.HealthcheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("stations.healthcheckinterval must be positive, got %d", settings.Stations.HealthcheckInterval))
	}
	if settings.Stations.MaxFailures <= 0 {
		errs = append(errs, fmt.Errorf("stations.maxfailures must be positive, got %d", settings.Stations.MaxFailures))
	}

	if settings.Notification.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("notification.queuesize must be positive, got %d", settings.Notification.QueueSize))
	}

	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		errs = append(errs, errors.New("no database output enabled, enable output.sqlite or output.mysql"))
	}
	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		errs = append(errs, errors.New("only one database output may be enabled at a time"))
	}

	switch settings.Main.Log.Rotation {
	case RotationDaily, RotationWeekly, RotationSize:
	default:
		errs = append(errs, fmt.Errorf("main.log.rotation must be daily, weekly or size, got %q", settings.Main.Log.Rotation))
	}

	return errors.Join(errs...)
}

func validateUnitInterval(key string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0, 1], got %.2f", key, v)
	}
	return nil
}
