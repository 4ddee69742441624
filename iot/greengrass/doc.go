// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package greengrass implements the device side of AWS IoT Greengrass discovery

A device asks the AWS IoT data endpoint which Greengrass groups it belongs to with a
mutually authenticated HTTPS request

	GET https://{endpoint}:8443/greengrass/discover/thing/{thing}

The answer lists all groups of the thing. Each group has exactly one core, and each core
may be reachable through several connection endpoints (for example one per network
interface):

	groups
	  +--> Group-ID | Thing ARN | Root CA | connections
	                                          +--> IP-address | Port | Metadata
	                                          +--> IP-address | Port | Metadata

The application receives all groups through a DiscoveryCallback and selects which
group's core it wants to connect to. The root CA of a group has to be used to verify the
core's server certificate.

# Discovery Payload

The wire format looks like this:

	{
	  "GGGroups": [
	    {
	      "GGGroupId": "group-1",
	      "Cores": [
	        {
	          "thingArn": "arn:aws:iot:eu-central-1:123456789012:thing/core-1",
	          "Connectivity": [
	            {"Id": "1", "HostAddress": "192.168.1.10", "PortNumber": 8883, "Metadata": "eth0"}
	          ]
	        }
	      ],
	      "CAs": ["-----BEGIN CERTIFICATE-----\n...\n-----END CERTIFICATE-----\n"]
	    }
	  ]
	}

A payload whose first object is not "GGGroups" is rejected, as is any payload which does
not validate against the embedded JSON schema.
*/
package greengrass
