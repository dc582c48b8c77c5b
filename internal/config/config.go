package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ENV_PREFIX = "SAAS_CONNECTOR"

	URL_APP_NAME                      = "URL_App_Name"
	URL_PATH_PREFIX                   = "URL_Path_Prefix"
	URL_BASE_PATH                     = "URL_Base_Path"
	HTTP_SHUTDOWN_TIMEOUT             = "HTTP_Shutdown_Timeout"
	SERVICE_TO_SERVICE_CREDENTIALS    = "Service_To_Service_Credentials"
	PROFILE                           = "Enable_Profile"
	BROKERS                           = "Kafka_Brokers"
	SYNC_EVENTS_TOPIC                 = "Kafka_Sync_Events_Topic"
	FIRST_SYNC_EVENTS_TOPIC           = "Kafka_First_Sync_Events_Topic"
	SYNC_EVENTS_GROUP_ID              = "Kafka_Sync_Events_Group_Id"
	SYNC_EVENTS_BATCH_SIZE            = "Kafka_Sync_Events_Batch_Size"
	SYNC_EVENTS_BATCH_BYTES           = "Kafka_Sync_Events_Batch_Bytes"
	KAFKA_USERNAME                    = "Kafka_Username"
	KAFKA_PASSWORD                    = "Kafka_Password"
	KAFKA_SASL_MECHANISM              = "Kafka_SASL_Mechanism"
	KAFKA_CA                          = "Kafka_CA"
	DEFAULT_BROKER_ADDRESS            = "kafka:29092"
	ORG_DATABASE_IMPL                 = "Organisation_Database_Impl"
	ORG_DATABASE_HOST                 = "Organisation_Database_Host"
	ORG_DATABASE_PORT                 = "Organisation_Database_Port"
	ORG_DATABASE_USER                 = "Organisation_Database_User"
	ORG_DATABASE_PASSWORD             = "Organisation_Database_Password"
	ORG_DATABASE_NAME                 = "Organisation_Database_Name"
	ORG_DATABASE_SSL_MODE             = "Organisation_Database_SSL_Mode"
	ORG_DATABASE_SSL_ROOT_CERT        = "Organisation_Database_SSL_Root_Cert"
	ORG_DATABASE_QUERY_TIMEOUT        = "Organisation_Database_Query_Timeout"
	DB_MIGRATION_LOCATION             = "DB_Migration_Location"
	GOVERNANCE_PLATFORM_BASE_URL      = "Governance_Platform_Base_Url"
	GOVERNANCE_PLATFORM_API_KEY       = "Governance_Platform_Api_Key"
	GOVERNANCE_PLATFORM_IMPL          = "Governance_Platform_Impl"
	GOVERNANCE_PLATFORM_CALL_TIMEOUT  = "Governance_Platform_Call_Timeout"
	CREDENTIAL_CIPHER_IMPL            = "Credential_Cipher_Impl"
	CREDENTIAL_CIPHER_AES_KEY         = "Credential_Cipher_AES_Key"
	CREDENTIAL_CIPHER_KMS_KEY_ID      = "Credential_Cipher_KMS_Key_Id"
	AWS_REGION                        = "AWS_Region"
	SYNC_SCHEDULE_INTERVAL            = "Sync_Schedule_Interval"
	SYNC_SCHEDULER_CHUNK_SIZE         = "Sync_Scheduler_Chunk_Size"
	SYNC_MAX_RETRIES                  = "Sync_Max_Retries"
	SYNC_RETRY_BACKOFF                = "Sync_Retry_Backoff"
	SYNC_MAX_RATE_LIMIT_DELAY         = "Sync_Max_Rate_Limit_Delay"
	ORGANISATION_CACHE_SIZE           = "Organisation_Cache_Size"
	ORGANISATION_CACHE_TTL            = "Organisation_Cache_TTL"
	INSTALL_STATE_SIGNING_KEY         = "Install_State_Signing_Key"
	INSTALL_STATE_TOKEN_EXPIRY        = "Install_State_Token_Expiry"
	VENDOR_CALL_TIMEOUT               = "Vendor_Call_Timeout"
	VENDOR_PAGE_SIZE                  = "Vendor_Page_Size"
	GITLAB_BASE_URL                   = "Gitlab_Base_Url"
	GITLAB_CLIENT_ID                  = "Gitlab_Client_Id"
	GITLAB_CLIENT_SECRET              = "Gitlab_Client_Secret"
	BITBUCKET_BASE_URL                = "Bitbucket_Base_Url"
	BITBUCKET_CLIENT_ID               = "Bitbucket_Client_Id"
	BITBUCKET_CLIENT_SECRET           = "Bitbucket_Client_Secret"
	HUBSPOT_BASE_URL                  = "Hubspot_Base_Url"
	HUBSPOT_CLIENT_ID                 = "Hubspot_Client_Id"
	HUBSPOT_CLIENT_SECRET             = "Hubspot_Client_Secret"
	HARVEST_BASE_URL                  = "Harvest_Base_Url"
	MONDAY_BASE_URL                   = "Monday_Base_Url"
	OAUTH_REDIRECT_URL                = "OAuth_Redirect_Url"
)

type Config struct {
	UrlAppName                    string
	UrlPathPrefix                 string
	UrlBasePath                   string
	HttpShutdownTimeout           time.Duration
	ServiceToServiceCredentials   map[string]interface{}
	Profile                       bool
	KafkaBrokers                  []string
	KafkaSyncEventsTopic          string
	KafkaFirstSyncEventsTopic     string
	KafkaSyncEventsGroupID        string
	KafkaSyncEventsBatchSize      int
	KafkaSyncEventsBatchBytes     int
	KafkaUsername                 string
	KafkaPassword                 string
	KafkaSASLMechanism            string
	KafkaCA                       string
	OrganisationDatabaseImpl      string
	OrganisationDatabaseHost      string
	OrganisationDatabasePort      int
	OrganisationDatabaseUser      string
	OrganisationDatabasePassword  string
	OrganisationDatabaseName      string
	OrganisationDatabaseSslMode   string
	OrganisationDatabaseSslCert   string
	OrganisationDatabaseTimeout   time.Duration
	DbMigrationLocation           string
	GovernancePlatformImpl        string
	GovernancePlatformBaseUrl     string
	GovernancePlatformApiKey      string
	GovernancePlatformCallTimeout time.Duration
	CredentialCipherImpl          string
	CredentialCipherAesKey        string
	CredentialCipherKmsKeyId      string
	AwsRegion                     string
	SyncScheduleInterval          time.Duration
	SyncSchedulerChunkSize        int
	SyncMaxRetries                int
	SyncRetryBackoff              time.Duration
	SyncMaxRateLimitDelay         time.Duration
	OrganisationCacheSize         int
	OrganisationCacheTTL          time.Duration
	InstallStateSigningKey        string
	InstallStateTokenExpiry       time.Duration
	VendorCallTimeout             time.Duration
	VendorPageSize                int
	GitlabBaseUrl                 string
	GitlabClientId                string
	GitlabClientSecret            string
	BitbucketBaseUrl              string
	BitbucketClientId             string
	BitbucketClientSecret         string
	HubspotBaseUrl                string
	HubspotClientId               string
	HubspotClientSecret           string
	HarvestBaseUrl                string
	MondayBaseUrl                 string
	OauthRedirectUrl              string
}

func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", URL_PATH_PREFIX, c.UrlPathPrefix)
	fmt.Fprintf(&b, "%s: %s\n", URL_APP_NAME, c.UrlAppName)
	fmt.Fprintf(&b, "%s: %s\n", URL_BASE_PATH, c.UrlBasePath)
	fmt.Fprintf(&b, "%s: %s\n", HTTP_SHUTDOWN_TIMEOUT, c.HttpShutdownTimeout)
	fmt.Fprintf(&b, "%s: %t\n", PROFILE, c.Profile)
	fmt.Fprintf(&b, "%s: %s\n", BROKERS, c.KafkaBrokers)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_EVENTS_TOPIC, c.KafkaSyncEventsTopic)
	fmt.Fprintf(&b, "%s: %s\n", FIRST_SYNC_EVENTS_TOPIC, c.KafkaFirstSyncEventsTopic)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_EVENTS_GROUP_ID, c.KafkaSyncEventsGroupID)
	fmt.Fprintf(&b, "%s: %d\n", SYNC_EVENTS_BATCH_SIZE, c.KafkaSyncEventsBatchSize)
	fmt.Fprintf(&b, "%s: %d\n", SYNC_EVENTS_BATCH_BYTES, c.KafkaSyncEventsBatchBytes)
	fmt.Fprintf(&b, "%s: %s\n", ORG_DATABASE_IMPL, c.OrganisationDatabaseImpl)
	fmt.Fprintf(&b, "%s: %s\n", ORG_DATABASE_HOST, c.OrganisationDatabaseHost)
	fmt.Fprintf(&b, "%s: %d\n", ORG_DATABASE_PORT, c.OrganisationDatabasePort)
	fmt.Fprintf(&b, "%s: %s\n", ORG_DATABASE_NAME, c.OrganisationDatabaseName)
	fmt.Fprintf(&b, "%s: %s\n", ORG_DATABASE_SSL_MODE, c.OrganisationDatabaseSslMode)
	fmt.Fprintf(&b, "%s: %s\n", ORG_DATABASE_QUERY_TIMEOUT, c.OrganisationDatabaseTimeout)
	fmt.Fprintf(&b, "%s: %s\n", DB_MIGRATION_LOCATION, c.DbMigrationLocation)
	fmt.Fprintf(&b, "%s: %s\n", GOVERNANCE_PLATFORM_IMPL, c.GovernancePlatformImpl)
	fmt.Fprintf(&b, "%s: %s\n", GOVERNANCE_PLATFORM_BASE_URL, c.GovernancePlatformBaseUrl)
	fmt.Fprintf(&b, "%s: %s\n", GOVERNANCE_PLATFORM_CALL_TIMEOUT, c.GovernancePlatformCallTimeout)
	fmt.Fprintf(&b, "%s: %s\n", CREDENTIAL_CIPHER_IMPL, c.CredentialCipherImpl)
	fmt.Fprintf(&b, "%s: %s\n", AWS_REGION, c.AwsRegion)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_SCHEDULE_INTERVAL, c.SyncScheduleInterval)
	fmt.Fprintf(&b, "%s: %d\n", SYNC_SCHEDULER_CHUNK_SIZE, c.SyncSchedulerChunkSize)
	fmt.Fprintf(&b, "%s: %d\n", SYNC_MAX_RETRIES, c.SyncMaxRetries)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_RETRY_BACKOFF, c.SyncRetryBackoff)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_MAX_RATE_LIMIT_DELAY, c.SyncMaxRateLimitDelay)
	fmt.Fprintf(&b, "%s: %d\n", ORGANISATION_CACHE_SIZE, c.OrganisationCacheSize)
	fmt.Fprintf(&b, "%s: %s\n", ORGANISATION_CACHE_TTL, c.OrganisationCacheTTL)
	fmt.Fprintf(&b, "%s: %s\n", VENDOR_CALL_TIMEOUT, c.VendorCallTimeout)
	fmt.Fprintf(&b, "%s: %d\n", VENDOR_PAGE_SIZE, c.VendorPageSize)

	return b.String()
}

func GetConfig() *Config {
	options := viper.New()

	options.SetDefault(URL_PATH_PREFIX, "api")
	options.SetDefault(URL_APP_NAME, "saas-connector")
	options.SetDefault(HTTP_SHUTDOWN_TIMEOUT, 2)
	options.SetDefault(SERVICE_TO_SERVICE_CREDENTIALS, "")
	options.SetDefault(PROFILE, false)
	options.SetDefault(BROKERS, []string{DEFAULT_BROKER_ADDRESS})
	options.SetDefault(SYNC_EVENTS_TOPIC, "platform.saas-connector.sync-events")
	options.SetDefault(FIRST_SYNC_EVENTS_TOPIC, "platform.saas-connector.first-sync-events")
	options.SetDefault(SYNC_EVENTS_GROUP_ID, "saas-connector-sync-consumer")
	options.SetDefault(SYNC_EVENTS_BATCH_SIZE, 100)
	options.SetDefault(SYNC_EVENTS_BATCH_BYTES, 1048576)
	options.SetDefault(KAFKA_USERNAME, "")
	options.SetDefault(KAFKA_PASSWORD, "")
	options.SetDefault(KAFKA_SASL_MECHANISM, "")
	options.SetDefault(KAFKA_CA, "")
	options.SetDefault(ORG_DATABASE_IMPL, "postgres")
	options.SetDefault(ORG_DATABASE_HOST, "localhost")
	options.SetDefault(ORG_DATABASE_PORT, 5432)
	options.SetDefault(ORG_DATABASE_USER, "insights")
	options.SetDefault(ORG_DATABASE_PASSWORD, "insights")
	options.SetDefault(ORG_DATABASE_NAME, "saas-connector")
	options.SetDefault(ORG_DATABASE_SSL_MODE, "disable")
	options.SetDefault(ORG_DATABASE_SSL_ROOT_CERT, "db_ssl_root_cert.pem")
	options.SetDefault(ORG_DATABASE_QUERY_TIMEOUT, 5)
	options.SetDefault(DB_MIGRATION_LOCATION, "file://./db/migrations")
	options.SetDefault(GOVERNANCE_PLATFORM_IMPL, "http")
	options.SetDefault(GOVERNANCE_PLATFORM_BASE_URL, "http://governance-api:8080")
	options.SetDefault(GOVERNANCE_PLATFORM_API_KEY, "")
	options.SetDefault(GOVERNANCE_PLATFORM_CALL_TIMEOUT, 10)
	options.SetDefault(CREDENTIAL_CIPHER_IMPL, "aes_gcm")
	options.SetDefault(CREDENTIAL_CIPHER_AES_KEY, "")
	options.SetDefault(CREDENTIAL_CIPHER_KMS_KEY_ID, "")
	options.SetDefault(AWS_REGION, "us-east-1")
	options.SetDefault(SYNC_SCHEDULE_INTERVAL, 43200)
	options.SetDefault(SYNC_SCHEDULER_CHUNK_SIZE, 100)
	options.SetDefault(SYNC_MAX_RETRIES, 5)
	options.SetDefault(SYNC_RETRY_BACKOFF, 2)
	options.SetDefault(SYNC_MAX_RATE_LIMIT_DELAY, 300)
	options.SetDefault(ORGANISATION_CACHE_SIZE, 1000)
	options.SetDefault(ORGANISATION_CACHE_TTL, 60)
	options.SetDefault(INSTALL_STATE_SIGNING_KEY, "")
	options.SetDefault(INSTALL_STATE_TOKEN_EXPIRY, 600)
	options.SetDefault(VENDOR_CALL_TIMEOUT, 30)
	options.SetDefault(VENDOR_PAGE_SIZE, 100)
	options.SetDefault(GITLAB_BASE_URL, "https://gitlab.com")
	options.SetDefault(GITLAB_CLIENT_ID, "")
	options.SetDefault(GITLAB_CLIENT_SECRET, "")
	options.SetDefault(BITBUCKET_BASE_URL, "https://api.bitbucket.org")
	options.SetDefault(BITBUCKET_CLIENT_ID, "")
	options.SetDefault(BITBUCKET_CLIENT_SECRET, "")
	options.SetDefault(HUBSPOT_BASE_URL, "https://api.hubapi.com")
	options.SetDefault(HUBSPOT_CLIENT_ID, "")
	options.SetDefault(HUBSPOT_CLIENT_SECRET, "")
	options.SetDefault(HARVEST_BASE_URL, "https://api.harvestapp.com")
	options.SetDefault(MONDAY_BASE_URL, "https://api.monday.com")
	options.SetDefault(OAUTH_REDIRECT_URL, "http://localhost:8080/api/saas-connector/v1/oauth/callback")

	options.SetEnvPrefix(ENV_PREFIX)
	options.AutomaticEnv()

	return &Config{
		UrlPathPrefix:                 options.GetString(URL_PATH_PREFIX),
		UrlAppName:                    options.GetString(URL_APP_NAME),
		UrlBasePath:                   buildUrlBasePath(options.GetString(URL_PATH_PREFIX), options.GetString(URL_APP_NAME)),
		HttpShutdownTimeout:           options.GetDuration(HTTP_SHUTDOWN_TIMEOUT) * time.Second,
		ServiceToServiceCredentials:   options.GetStringMap(SERVICE_TO_SERVICE_CREDENTIALS),
		Profile:                       options.GetBool(PROFILE),
		KafkaBrokers:                  options.GetStringSlice(BROKERS),
		KafkaSyncEventsTopic:          options.GetString(SYNC_EVENTS_TOPIC),
		KafkaFirstSyncEventsTopic:     options.GetString(FIRST_SYNC_EVENTS_TOPIC),
		KafkaSyncEventsGroupID:        options.GetString(SYNC_EVENTS_GROUP_ID),
		KafkaSyncEventsBatchSize:      options.GetInt(SYNC_EVENTS_BATCH_SIZE),
		KafkaSyncEventsBatchBytes:     options.GetInt(SYNC_EVENTS_BATCH_BYTES),
		KafkaUsername:                 options.GetString(KAFKA_USERNAME),
		KafkaPassword:                 options.GetString(KAFKA_PASSWORD),
		KafkaSASLMechanism:            options.GetString(KAFKA_SASL_MECHANISM),
		KafkaCA:                       options.GetString(KAFKA_CA),
		OrganisationDatabaseImpl:      options.GetString(ORG_DATABASE_IMPL),
		OrganisationDatabaseHost:      options.GetString(ORG_DATABASE_HOST),
		OrganisationDatabasePort:      options.GetInt(ORG_DATABASE_PORT),
		OrganisationDatabaseUser:      options.GetString(ORG_DATABASE_USER),
		OrganisationDatabasePassword:  options.GetString(ORG_DATABASE_PASSWORD),
		OrganisationDatabaseName:      options.GetString(ORG_DATABASE_NAME),
		OrganisationDatabaseSslMode:   options.GetString(ORG_DATABASE_SSL_MODE),
		OrganisationDatabaseSslCert:   options.GetString(ORG_DATABASE_SSL_ROOT_CERT),
		OrganisationDatabaseTimeout:   options.GetDuration(ORG_DATABASE_QUERY_TIMEOUT) * time.Second,
		DbMigrationLocation:           options.GetString(DB_MIGRATION_LOCATION),
		GovernancePlatformImpl:        options.GetString(GOVERNANCE_PLATFORM_IMPL),
		GovernancePlatformBaseUrl:     options.GetString(GOVERNANCE_PLATFORM_BASE_URL),
		GovernancePlatformApiKey:      options.GetString(GOVERNANCE_PLATFORM_API_KEY),
		GovernancePlatformCallTimeout: options.GetDuration(GOVERNANCE_PLATFORM_CALL_TIMEOUT) * time.Second,
		CredentialCipherImpl:          options.GetString(CREDENTIAL_CIPHER_IMPL),
		CredentialCipherAesKey:        options.GetString(CREDENTIAL_CIPHER_AES_KEY),
		CredentialCipherKmsKeyId:      options.GetString(CREDENTIAL_CIPHER_KMS_KEY_ID),
		AwsRegion:                     options.GetString(AWS_REGION),
		SyncScheduleInterval:          options.GetDuration(SYNC_SCHEDULE_INTERVAL) * time.Second,
		SyncSchedulerChunkSize:        options.GetInt(SYNC_SCHEDULER_CHUNK_SIZE),
		SyncMaxRetries:                options.GetInt(SYNC_MAX_RETRIES),
		SyncRetryBackoff:              options.GetDuration(SYNC_RETRY_BACKOFF) * time.Second,
		SyncMaxRateLimitDelay:         options.GetDuration(SYNC_MAX_RATE_LIMIT_DELAY) * time.Second,
		OrganisationCacheSize:         options.GetInt(ORGANISATION_CACHE_SIZE),
		OrganisationCacheTTL:          options.GetDuration(ORGANISATION_CACHE_TTL) * time.Second,
		InstallStateSigningKey:        options.GetString(INSTALL_STATE_SIGNING_KEY),
		InstallStateTokenExpiry:       options.GetDuration(INSTALL_STATE_TOKEN_EXPIRY) * time.Second,
		VendorCallTimeout:             options.GetDuration(VENDOR_CALL_TIMEOUT) * time.Second,
		VendorPageSize:                options.GetInt(VENDOR_PAGE_SIZE),
		GitlabBaseUrl:                 options.GetString(GITLAB_BASE_URL),
		GitlabClientId:                options.GetString(GITLAB_CLIENT_ID),
		GitlabClientSecret:            options.GetString(GITLAB_CLIENT_SECRET),
		BitbucketBaseUrl:              options.GetString(BITBUCKET_BASE_URL),
		BitbucketClientId:             options.GetString(BITBUCKET_CLIENT_ID),
		BitbucketClientSecret:         options.GetString(BITBUCKET_CLIENT_SECRET),
		HubspotBaseUrl:                options.GetString(HUBSPOT_BASE_URL),
		HubspotClientId:               options.GetString(HUBSPOT_CLIENT_ID),
		HubspotClientSecret:           options.GetString(HUBSPOT_CLIENT_SECRET),
		HarvestBaseUrl:                options.GetString(HARVEST_BASE_URL),
		MondayBaseUrl:                 options.GetString(MONDAY_BASE_URL),
		OauthRedirectUrl:              options.GetString(OAUTH_REDIRECT_URL),
	}
}

func buildUrlBasePath(pathPrefix string, appName string) string {
	return fmt.Sprintf("/%s/%s/v1", pathPrefix, appName)
}
