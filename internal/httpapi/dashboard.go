package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>TaskMirror Dashboard</title>
  <style>
    :root {
      --ink: #1c2430;
      --paper: #f6f7fb;
      --card: #ffffff;
      --line: #d8dde8;
      --accent: #3566d6;
      --accent-2: #2aa37a;
      --danger: #c2483f;
      --muted: #68738a;
      --shadow: 0 14px 30px rgba(28, 36, 48, 0.12);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Inter", "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background:
        radial-gradient(900px 420px at -5% -10%, rgba(53, 102, 214, 0.12), transparent 60%),
        radial-gradient(800px 420px at 110% -10%, rgba(42, 163, 122, 0.12), transparent 65%),
        var(--paper);
      min-height: 100vh;
      padding: 20px;
    }

    .shell {
      max-width: 1180px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
    }

    .bar {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 16px;
      padding: 16px;
      box-shadow: var(--shadow);
      display: flex;
      align-items: center;
      justify-content: space-between;
      gap: 12px;
      flex-wrap: wrap;
    }

    h1 { margin: 0; font-size: clamp(1.15rem, 2vw, 1.6rem); }
    .sub { color: var(--muted); font-size: 0.88rem; margin-top: 4px; }

    button {
      border: 0;
      border-radius: 10px;
      padding: 10px 14px;
      font-family: inherit;
      font-weight: 600;
      cursor: pointer;
    }
    .btn-primary { background: var(--accent); color: #fff; }
    .btn-secondary { background: #eef1f8; color: var(--ink); border: 1px solid var(--line); }
    button:disabled { opacity: 0.55; cursor: default; }

    .status {
      display: inline-flex;
      align-items: center;
      gap: 8px;
      padding: 6px 12px;
      border-radius: 999px;
      border: 1px solid var(--line);
      font-size: 0.85rem;
      background: #f2f4fa;
    }
    .dot { width: 9px; height: 9px; border-radius: 50%; background: var(--muted); }
    .status[data-state="running"] .dot { background: var(--accent); }
    .status[data-state="completed"] .dot { background: var(--accent-2); }
    .status[data-state="error"] .dot { background: var(--danger); }

    .progress {
      height: 6px;
      border-radius: 999px;
      background: #e7ebf4;
      overflow: hidden;
      width: 180px;
    }
    .progress > i {
      display: block;
      height: 100%;
      width: 0%;
      background: var(--accent);
      transition: width 240ms ease;
    }

    .cards {
      display: grid;
      gap: 14px;
      grid-template-columns: repeat(auto-fit, minmax(170px, 1fr));
    }
    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 16px;
      padding: 16px;
      box-shadow: var(--shadow);
    }
    .card .num { font-size: 1.8rem; font-weight: 700; }
    .card .label { color: var(--muted); font-size: 0.82rem; margin-top: 4px; }

    .panel {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 16px;
      padding: 16px;
      box-shadow: var(--shadow);
    }
    .panel h2 { margin: 0 0 10px; font-size: 1rem; }

    table { width: 100%; border-collapse: collapse; font-size: 0.88rem; }
    th, td { text-align: left; padding: 8px 10px; border-bottom: 1px solid var(--line); }
    th { color: var(--muted); font-weight: 600; font-size: 0.78rem; text-transform: uppercase; letter-spacing: 0.04em; }
    .pill {
      display: inline-block;
      padding: 2px 9px;
      border-radius: 999px;
      background: #eef1f8;
      border: 1px solid var(--line);
      font-size: 0.78rem;
    }
    .muted { color: var(--muted); }
  </style>
</head>
<body>
  <div class="shell">
    <div class="bar">
      <div>
        <h1>TaskMirror</h1>
        <div class="sub">Local mirror of your Notion task database</div>
      </div>
      <div style="display:flex;align-items:center;gap:12px;flex-wrap:wrap;">
        <span class="status" id="status" data-state="idle"><span class="dot"></span><span id="status-text">idle</span></span>
        <div class="progress"><i id="progress-fill"></i></div>
        <button class="btn-primary" id="sync-btn">Sync now</button>
        <button class="btn-secondary" id="full-btn">Full resync</button>
      </div>
    </div>

    <div class="cards">
      <div class="card"><div class="num" id="sum-open">&ndash;</div><div class="label">Open tasks</div></div>
      <div class="card"><div class="num" id="sum-completed">&ndash;</div><div class="label">Completed</div></div>
      <div class="card"><div class="num" id="sum-incoming">&ndash;</div><div class="label">New last 7 days</div></div>
      <div class="card"><div class="num" id="sum-done7">&ndash;</div><div class="label">Done last 7 days</div></div>
    </div>

    <div class="panel">
      <h2>Tasks</h2>
      <table>
        <thead>
          <tr><th>Title</th><th>Status</th><th>Due</th><th>Project</th><th>Area</th></tr>
        </thead>
        <tbody id="todo-rows">
          <tr><td colspan="5" class="muted">Loading&hellip;</td></tr>
        </tbody>
      </table>
    </div>
  </div>

  <script>
    const el = (id) => document.getElementById(id);

    function setStatus(run) {
      el("status").dataset.state = run.status;
      let text = run.status;
      if (run.status === "running") {
        text = "syncing " + run.processed + "/" + run.total;
      } else if (run.status === "error") {
        text = "error: " + (run.error || "sync failed");
      } else if (run.status === "completed" && run.result) {
        text = "completed (" + run.result.upserted_count + " rows, " + run.result.duration_ms + "ms)";
      }
      el("status-text").textContent = text;
      const pct = run.total > 0 ? Math.min(100, Math.round(100 * run.processed / run.total)) : 0;
      el("progress-fill").style.width = pct + "%";
      const busy = run.status === "running";
      el("sync-btn").disabled = busy;
      el("full-btn").disabled = busy;
      if (!busy && run.status !== "idle") {
        refreshData();
      }
    }

    function watchStatus() {
      const proto = location.protocol === "https:" ? "wss:" : "ws:";
      const ws = new WebSocket(proto + "//" + location.host + "/v1/sync/status/stream");
      ws.onmessage = (ev) => setStatus(JSON.parse(ev.data));
      ws.onclose = () => setTimeout(watchStatus, 2000);
      ws.onerror = () => ws.close();
    }

    async function trigger(forceFull) {
      await fetch("/v1/sync", {
        method: "POST",
        headers: { "Content-Type": "application/json" },
        body: JSON.stringify({ force_full: forceFull })
      });
    }

    async function refreshData() {
      const [statsRes, todosRes] = await Promise.all([
        fetch("/v1/dashboard-stats"),
        fetch("/v1/todos?limit=25")
      ]);
      const stats = await statsRes.json();
      const todos = await todosRes.json();

      el("sum-open").textContent = stats.summary.open;
      el("sum-completed").textContent = stats.summary.completed;
      el("sum-incoming").textContent = stats.summary.incoming_last_7d;
      el("sum-done7").textContent = stats.summary.completed_last_7d;

      const rows = el("todo-rows");
      rows.innerHTML = "";
      if (!todos.items.length) {
        rows.innerHTML = '<tr><td colspan="5" class="muted">No tasks yet. Run a sync.</td></tr>';
        return;
      }
      for (const t of todos.items) {
        const tr = document.createElement("tr");
        const cell = (v) => { const td = document.createElement("td"); td.textContent = v || ""; return td; };
        tr.appendChild(cell(t.title));
        const st = document.createElement("td");
        if (t.status) {
          const pill = document.createElement("span");
          pill.className = "pill";
          pill.textContent = t.status;
          st.appendChild(pill);
        }
        tr.appendChild(st);
        tr.appendChild(cell(t.due_date));
        tr.appendChild(cell(t.project));
        tr.appendChild(cell(t.area));
        rows.appendChild(tr);
      }
    }

    el("sync-btn").addEventListener("click", () => trigger(false));
    el("full-btn").addEventListener("click", () => trigger(true));

    refreshData();
    watchStatus();
  </script>
</body>
</html>
`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, dashboardHTML)
}
