/*
Package credentials provides device credentials for development and testing

The package implements a small certificate authority which can issue server certificates
for a local Greengrass core and device certificates for things. Device certificates carry
the thing name as common name, which is what the local broker checks against the MQTT
client id.

For brokers which authenticate with username and password, the package creates JWT
password tokens signed with the device's private key:

	token, err := credentials.NewPasswordToken("my-thing", "my-broker", keyPEM, time.Hour)

The broker verifies the token with the device certificate.
*/
package credentials
