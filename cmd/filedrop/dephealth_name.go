package main

import (
	"os"
	"strings"

	"github.com/bigkaa/goartstore/filedrop/internal/config"
)

// resolveDephealthName — имя вершины topologymetrics: DEPHEALTH_NAME,
// иначе владелец пода из hostname, иначе FD_SERVICE_ID.
func resolveDephealthName(cfg *config.Config) string {
	if cfg.DephealthName != "" {
		return cfg.DephealthName
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return parseOwnerName(host)
	}
	return cfg.ServiceID
}

// parseOwnerName извлекает имя владельца пода из hostname:
// Deployment — <name>-<hash replicaset>-<5 символов>,
// StatefulSet — <name>-<ordinal>. Иначе hostname без изменений.
func parseOwnerName(hostname string) string {
	parts := strings.Split(hostname, "-")
	n := len(parts)

	if n >= 3 && isPodSuffix(parts[n-1]) && isReplicaSetHash(parts[n-2]) {
		return strings.Join(parts[:n-2], "-")
	}
	if n >= 2 && isDigits(parts[n-1]) {
		return strings.Join(parts[:n-1], "-")
	}
	return hostname
}

func isPodSuffix(s string) bool {
	return len(s) == 5 && isLowerAlnum(s)
}

// isReplicaSetHash — хэш шаблона пода содержит хотя бы одну цифру,
// чтобы обычные слова имени не принимались за хэш.
func isReplicaSetHash(s string) bool {
	return len(s) >= 6 && len(s) <= 10 && isLowerAlnum(s) && strings.ContainsAny(s, "0123456789")
}

func isLowerAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
