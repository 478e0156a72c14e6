package task

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"BNBChain-AgentKit/internal/storage/mysql/mysqltest"
)

var taskRowColumns = []string{"id", "session_id", "skill", "status", "state", "attempts", "max_retries",
	"last_error", "error_code", "document", "push_config", "created_at", "updated_at"}

const selectTaskSQL = `SELECT ` + taskColumns + ` FROM a2a_tasks WHERE id = ?`

func newMySQLTestStore(t *testing.T, ops ...mysqltest.Op) *MySQLStore {
	t.Helper()
	db, drv := mysqltest.Open(t, ops...)
	t.Cleanup(func() { drv.AssertConsumed(t) })
	store, err := NewMySQLStore(db)
	if err != nil {
		t.Fatalf("创建 MySQLStore 失败: %v", err)
	}
	store.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return store
}

func taskRow(id string, status Status, attempts int, pushConfig any) []driver.Value {
	return []driver.Value{id, "sess", "chat", string(status), "working", int64(attempts), int64(3),
		nil, "", `{"id":"` + id + `"}`, pushConfig, int64(1_699_999_000), int64(1_700_000_000)}
}

func TestMySQLStoreCreate(t *testing.T) {
	t.Parallel()

	store := newMySQLTestStore(t,
		mysqltest.Exec(`INSERT INTO a2a_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?, ?, ?)`, mysqltest.Result{Affected: 1}).
			WithArgs("t1", "sess", "chat", "pending", "submitted", 0, 3, `{"a":1}`, nil, int64(1_700_000_000), int64(1_700_000_000)),
		mysqltest.Exec(`INSERT INTO a2a_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?, ?, ?)`, mysqltest.Result{}).
			WithError(&mysql.MySQLError{Number: 1062}),
	)

	ctx := context.Background()
	task := &Task{ID: "t1", SessionID: "sess", Skill: "chat", Status: StatusPending, State: "submitted", MaxRetries: 3, Document: []byte(`{"a":1}`)}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("插入任务失败: %v", err)
	}
	if task.CreatedAt != 1_700_000_000 {
		t.Fatalf("创建时间未填充: %d", task.CreatedAt)
	}
	if err := store.Create(ctx, &Task{ID: "t1"}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("主键冲突应映射为 TASK_CONFLICT，实际 %v", err)
	}
}

func TestMySQLStoreGet(t *testing.T) {
	t.Parallel()

	store := newMySQLTestStore(t,
		mysqltest.Query(selectTaskSQL, mysqltest.Rows{Columns: taskRowColumns, Values: [][]driver.Value{
			taskRow("t1", StatusRunning, 1, `{"url":"https://hook"}`),
		}}).WithArgs("t1"),
		mysqltest.Query(selectTaskSQL, mysqltest.Rows{Columns: taskRowColumns}),
	)

	ctx := context.Background()
	task, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if task.Status != StatusRunning || task.Attempts != 1 || string(task.Document) != `{"id":"t1"}` {
		t.Fatalf("字段解析不正确: %+v", task)
	}
	if string(task.PushConfig) != `{"url":"https://hook"}` || task.LastError != "" {
		t.Fatalf("可空字段解析不正确: %+v", task)
	}
	if _, err := store.Get(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("期望 TASK_NOT_FOUND，实际 %v", err)
	}
}

func TestMySQLStoreClaim(t *testing.T) {
	t.Parallel()

	claimSQL := `UPDATE a2a_tasks SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`
	store := newMySQLTestStore(t,
		mysqltest.Exec(claimSQL, mysqltest.Result{Affected: 1}).WithArgs("running", int64(1_700_000_000), "t1", "pending", "failed"),
		mysqltest.Query(selectTaskSQL, mysqltest.Rows{Columns: taskRowColumns, Values: [][]driver.Value{taskRow("t1", StatusRunning, 1, nil)}}),
		mysqltest.Exec(claimSQL, mysqltest.Result{Affected: 0}),
		mysqltest.Query(selectTaskSQL, mysqltest.Rows{Columns: taskRowColumns, Values: [][]driver.Value{taskRow("t2", StatusCanceled, 1, nil)}}),
		mysqltest.Exec(claimSQL, mysqltest.Result{Affected: 0}),
		mysqltest.Query(selectTaskSQL, mysqltest.Rows{Columns: taskRowColumns, Values: [][]driver.Value{taskRow("t3", StatusFailed, 3, nil)}}),
	)

	ctx := context.Background()
	if task, err := store.Claim(ctx, "t1"); err != nil || task.Status != StatusRunning {
		t.Fatalf("领取失败: %+v %v", task, err)
	}
	if _, err := store.Claim(ctx, "t2"); !IsTaskError(err, CodeTaskCompleted) {
		t.Fatalf("已取消任务应返回 TASK_COMPLETED，实际 %v", err)
	}
	if _, err := store.Claim(ctx, "t3"); !IsTaskError(err, CodeTaskExhausted) {
		t.Fatalf("重试耗尽应返回 TASK_RETRIES_EXHAUSTED，实际 %v", err)
	}
}

func TestMySQLStoreMarkSucceededGuardsStatus(t *testing.T) {
	t.Parallel()

	markSQL := `UPDATE a2a_tasks SET status = ?, state = ?, document = COALESCE(?, document), updated_at = ?,
        last_error = '', error_code = '' WHERE id = ? AND status = ?`
	store := newMySQLTestStore(t,
		mysqltest.Exec(markSQL, mysqltest.Result{Affected: 1}).
			WithArgs("succeeded", "completed", `{"done":true}`, int64(1_700_000_000), "t1", "running"),
		mysqltest.Exec(markSQL, mysqltest.Result{Affected: 0}),
		mysqltest.Query(selectTaskSQL, mysqltest.Rows{Columns: taskRowColumns, Values: [][]driver.Value{taskRow("t2", StatusCanceled, 1, nil)}}),
	)

	ctx := context.Background()
	if err := store.MarkSucceeded(ctx, "t1", Result{State: "completed", Document: []byte(`{"done":true}`)}); err != nil {
		t.Fatalf("标记成功失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t2", Result{State: "completed"}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("非运行中的任务应返回冲突，实际 %v", err)
	}
}

func TestMySQLStoreMarkFailedTerminal(t *testing.T) {
	t.Parallel()

	store := newMySQLTestStore(t,
		mysqltest.Exec(`UPDATE a2a_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        attempts = GREATEST(attempts, max_retries) WHERE id = ?`, mysqltest.Result{Affected: 1}).
			WithArgs("failed", "boom", "TASK_PROCESSING_FAILED", int64(1_700_000_000), "t1"),
		mysqltest.Exec(`UPDATE a2a_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`, mysqltest.Result{Affected: 0}),
	)

	ctx := context.Background()
	if err := store.MarkFailed(ctx, "t1", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}
	if err := store.MarkFailed(ctx, "missing", CodeTaskProcessing, "boom", false); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("期望 TASK_NOT_FOUND，实际 %v", err)
	}
}

func TestMySQLStoreListAndStats(t *testing.T) {
	t.Parallel()

	store := newMySQLTestStore(t,
		mysqltest.Query(`SELECT `+taskColumns+` FROM a2a_tasks WHERE status IN (?,?) AND session_id = ?
            ORDER BY updated_at ASC, created_at ASC, id ASC LIMIT ? OFFSET ?`, mysqltest.Rows{
			Columns: taskRowColumns,
			Values: [][]driver.Value{
				taskRow("a", StatusPending, 0, nil),
				taskRow("b", StatusFailed, 1, nil),
			},
		}).WithArgs("pending", "failed", "sess", 10, 0),
		mysqltest.Query(`SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM a2a_tasks WHERE (id LIKE ? OR session_id LIKE ? OR skill LIKE ? OR document LIKE ?)`, mysqltest.Rows{
			Columns: []string{"total", "pending", "running", "succeeded", "failed", "canceled", "oldest", "newest"},
			Values:  [][]driver.Value{{int64(5), int64(1), int64(1), int64(1), int64(1), int64(1), int64(10), int64(50)}},
		}).WithArgs("pending", "running", "succeeded", "failed", "canceled", "%hello%", "%hello%", "%hello%", "%hello%"),
	)

	ctx := context.Background()
	list, err := store.List(ctx, BuildListOptions(
		WithStatuses(StatusPending, StatusFailed),
		WithSession("sess"),
		WithLimit(10),
		WithSortOrder(SortByUpdatedAsc),
	))
	if err != nil {
		t.Fatalf("列出任务失败: %v", err)
	}
	if len(list) != 2 || list[1].ID != "b" {
		t.Fatalf("列表结果不正确: %+v", list)
	}

	stats, err := store.Stats(ctx, BuildListOptions(WithQuery(" hello ")))
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if stats.Total != 5 || stats.Canceled != 1 || stats.NewestUpdatedAt != 50 {
		t.Fatalf("统计结果不正确: %+v", stats)
	}
}
