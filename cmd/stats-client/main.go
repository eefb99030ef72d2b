package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Wuchinator/streamin-analytics/internal/analytics"
	"github.com/Wuchinator/streamin-analytics/internal/query"
	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "analytics server base URL")
	grpcAddr := flag.String("grpc", "", "gRPC health address, e.g. localhost:50051")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	if *grpcAddr != "" {
		checkHealth(*grpcAddr)
	}

	var overview query.OverviewResponse
	if err := getJSON(client, *baseURL+"/api/admin/stats/overview", &overview); err != nil {
		log.Fatalf("Failed to get overview: %v", err)
	}
	o := overview.Overview
	fmt.Println("Overview")
	fmt.Printf("   Views:        %d (today %d)\n", o.TotalViews, o.TodayViews)
	fmt.Printf("   Searches:     %d (today %d)\n", o.TotalSearches, o.TodaySearches)
	fmt.Printf("   Video starts: %d (today %d)\n", o.TotalVideoStarts, o.TodayVideoStarts)
	fmt.Printf("   Users:        %d (today %d)\n", o.UniqueUsers, o.TodayUsers)

	fmt.Println("\nTop countries")
	for i, c := range overview.TopCountries {
		fmt.Printf("   %2d. %s - %d\n", i+1, c.Country, c.Views)
	}

	var content []analytics.ContentStat
	if err := getJSON(client, *baseURL+"/api/admin/stats/popular-content", &content); err != nil {
		log.Fatalf("Failed to get popular content: %v", err)
	}
	fmt.Println("\nPopular content")
	for i, c := range content {
		fmt.Printf("   %2d. %s [%s] views=%d searches=%d\n", i+1, c.ContentTitle, c.Category, c.Views, c.Searches)
	}

	var rt analytics.Realtime
	if err := getJSON(client, *baseURL+"/api/admin/stats/realtime", &rt); err != nil {
		log.Fatalf("Failed to get realtime stats: %v", err)
	}
	fmt.Printf("\nRealtime: %d active users\n", rt.ActiveUsers)
	for i, item := range rt.CurrentWatching {
		if i >= 10 {
			fmt.Printf("   ... and %d more\n", len(rt.CurrentWatching)-i)
			break
		}
		fmt.Printf("   %s %-12s %s\n", item.RecordedAt.Local().Format("15:04:05"), item.Kind, describe(item))
	}
}

func describe(item analytics.ActivityItem) string {
	switch {
	case item.Payload.ContentTitle != "":
		return item.Payload.ContentTitle
	case item.Payload.SearchQuery != "":
		return fmt.Sprintf("%q", item.Payload.SearchQuery)
	default:
		return item.Payload.PageName
	}
}

func getJSON(client *http.Client, url string, dst any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func checkHealth(addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{
		Service: "analytics-server",
	})
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}
	fmt.Printf("Health check: %s\n\n", resp.GetStatus())
}
