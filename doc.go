/*
Package schemamigrator moves schema definitions into a Confluent compatible Schema Registry.

Schemas are read from one of three sources and registered on the target registry unless an identical
schema is already registered under the same subject.

# Sources
  - DirectorySource: *.avsc files of the directories mapped to topics, subjects are derived with a
    SubjectStrategy (TopicNameStrategy, RecordNameStrategy or TopicRecordNameStrategy)
  - RegistrySource: every version of every subject of another registry, in version order and with
    referenced schemas first
  - StorageTopicSource: the live subjects of a registry rebuilt from its Kafka storage topic (_schemas)

# Features
  - OAuth2 client credentials, static bearer and basic authentication, registry group header
  - Dry runs, reports as table, yaml or json
  - Subject compatibility levels carried over to the target
  - Verification of a source against the target without writing
  - Relay of Kafka records between clusters with schema ids rewritten to the target ids

Schema registry API : https://docs.confluent.io/platform/current/schema-registry/develop/api.html

Wire format: https://docs.confluent.io/platform/current/schema-registry/fundamentals/serdes-develop/index.html#wire-format

Avro: http://avro.apache.org/docs/current/

Protobuf: https://protobuf.dev/programming-guides/encoding/
*/

package schemamigrator
