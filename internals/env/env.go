package env

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zenv"
)

type EnvStruct struct {
	HOME              string `zog:"HOME"`
	PORT              int    `zog:"PITHY_PORT"`
	HOST              string `zog:"PITHY_HOST"`
	APP_URL           string `zog:"PITHY_APP_URL"`
	CONFIG_PATH       string `zog:"PITHY_CONFIG"`
	OPERATOR_TOKEN    string `zog:"PITHY_OPERATOR_TOKEN"`
	USER_ID           string `zog:"PITHY_USER"`
	DAYTONA_API_KEY   string `zog:"DAYTONA_API_KEY"`
	DAYTONA_API_URL   string `zog:"DAYTONA_API_URL"`
	OPENAI_API_KEY    string `zog:"OPENAI_API_KEY"`
	ANTHROPIC_API_KEY string `zog:"ANTHROPIC_API_KEY"`
	GITHUB_TOKEN      string `zog:"GITHUB_TOKEN"`
	LISTEN_ADDR       string
	LISTEN_PROT       string
	BASE_URL          string
}

var env *EnvStruct

var EnvSchema = z.Struct(z.Shape{
	"HOME":              z.String(),
	"PORT":              z.Int().Default(57877),
	"HOST":              z.String().Default("localhost").Trim(),
	"APP_URL":           z.String().Optional().Trim(),
	"CONFIG_PATH":       z.String().Optional().Trim(),
	"OPERATOR_TOKEN":    z.String().Optional(),
	"USER_ID":           z.String().Optional().Trim(),
	"DAYTONA_API_KEY":   z.String().Optional(),
	"DAYTONA_API_URL":   z.String().Optional().Trim(),
	"OPENAI_API_KEY":    z.String().Optional(),
	"ANTHROPIC_API_KEY": z.String().Optional(),
	"GITHUB_TOKEN":      z.String().Optional(),
})

// Load parses the process environment.
func Load() (*EnvStruct, error) {
	parsed := &EnvStruct{}
	if issues := EnvSchema.Parse(zenv.NewDataProvider(), parsed); len(issues) > 0 {
		return nil, fmt.Errorf("invalid environment:\n%s", z.Issues.Prettify(issues))
	}

	parsed.LISTEN_PROT = "http://"
	parsed.LISTEN_ADDR = parsed.HOST + ":" + strconv.Itoa(parsed.PORT)
	parsed.BASE_URL = parsed.LISTEN_PROT + parsed.LISTEN_ADDR
	if parsed.APP_URL == "" {
		parsed.APP_URL = parsed.BASE_URL
	}
	parsed.APP_URL = strings.TrimRight(parsed.APP_URL, "/")
	return parsed, nil
}

func Get() *EnvStruct {
	if env == nil {
		parsed, err := Load()
		if err != nil {
			log.Fatal("[Pithy] Failed to parse environment variables ", err)
		}
		env = parsed
	}
	return env
}
