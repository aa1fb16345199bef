// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "SODAV-Monitor")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "monitor.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)

	viper.SetDefault("audio.samplerate", 44100)
	viper.SetDefault("audio.minlength", 10.0)
	viper.SetDefault("audio.maxlength", 30.0)
	viper.SetDefault("audio.window", 10.0)
	viper.SetDefault("audio.ffmpegpath", "ffmpeg")

	viper.SetDefault("detection.minconfidence", 0.8)
	viper.SetDefault("detection.sametracksimilarity", 0.85)
	viper.SetDefault("detection.silenceduration", 2.0)

	viper.SetDefault("providers.maxretries", 3)
	viper.SetDefault("providers.requesttimeout", 10)

	viper.SetDefault("providers.acoustid.enabled", true)
	viper.SetDefault("providers.acoustid.apikey", "")
	viper.SetDefault("providers.acoustid.threshold", 0.7)
	viper.SetDefault("providers.acoustid.ratelimit", 3.0)
	viper.SetDefault("providers.acoustid.burst", 3)

	viper.SetDefault("providers.audd.enabled", true)
	viper.SetDefault("providers.audd.apikey", "")
	viper.SetDefault("providers.audd.threshold", 0.6)
	viper.SetDefault("providers.audd.ratelimit", 1.0)
	viper.SetDefault("providers.audd.burst", 2)

	viper.SetDefault("stations.healthcheckinterval", 30)
	viper.SetDefault("stations.maxfailures", 3)
	viper.SetDefault("stations.recoveryinterval", 300)
	viper.SetDefault("stations.shutdowngrace", 30)

	viper.SetDefault("notification.queuesize", 256)
	viper.SetDefault("notification.mqtt.enabled", false)
	viper.SetDefault("notification.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("notification.mqtt.topic", "sodav/monitor")
	viper.SetDefault("notification.mqtt.username", "")
	viper.SetDefault("notification.mqtt.password", "")
	viper.SetDefault("notification.mqtt.retain", false)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "monitor.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "sodav")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "monitor")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}
