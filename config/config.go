package config

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load initializes the configuration with viper
func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading it. Using default values and environment variables.")
	}

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.root_url", "http://localhost:8080")

	viper.SetDefault("db.path", "./data/cafetone.db")

	viper.SetDefault("spotify.redirect_uri", "http://localhost:8080/spotify/callback")
	viper.SetDefault("spotify.scopes", []string{
		"user-read-private",
		"user-read-email",
		"user-read-playback-state",
		"user-modify-playback-state",
		"user-read-currently-playing",
		"streaming",
		"user-library-read",
		"playlist-read-private",
		"playlist-read-collaborative",
		"user-top-read",
		"user-read-recently-played",
	})

	// viewer poll cadence and progress-bar tick, both in milliseconds
	viper.SetDefault("player.poll_interval_ms", 2000)
	viper.SetDefault("player.tick_interval_ms", 250)

	viper.SetDefault("session.lifetime_hours", 24)

	viper.AutomaticEnv()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error reading config file: %v", err)
		}
		log.Println("Config file not found, using default values and environment variables")
	} else {
		log.Println("Using config file:", viper.ConfigFileUsed())
	}

	// check for required settings
	requiredVars := []string{"spotify.client_id", "spotify.client_secret"}
	missingVars := []string{}

	for _, v := range requiredVars {
		if !viper.IsSet(v) {
			missingVars = append(missingVars, v)
		}
	}

	if len(missingVars) > 0 {
		log.Fatalf("Required configuration variables not set: %s", strings.Join(missingVars, ", "))
	}
}
